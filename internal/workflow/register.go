package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autoconfig.org/internal/dataload"
	"autoconfig.org/internal/modules"
	"autoconfig.org/internal/tenants"
	"autoconfig.org/internal/users"
)

// Step names of register-tenant, in execution order.
const (
	StepWaitGateway     = "wait-gateway"
	StepEnsureTenant    = "ensure-tenant"
	StepWaitModules     = "wait-backend-modules"
	StepEnableModules   = "enable-modules"
	StepFindAuthModule  = "find-auth-module"
	StepDisableAuth     = "disable-auth-module"
	StepCreateAdmin     = "create-admin"
	StepEnableAuth      = "enable-auth-module"
	StepLogin           = "login"
	StepAssignRootPerms = "assign-root-permissions"
	StepReferenceData   = "load-reference-data"
	StepSampleData      = "load-sample-data"
)

// AuthInterface is the interface of the module that enforces tokens.
const AuthInterface = "authtoken"

// Admin describes the administrative user of a tenant.
type Admin struct {
	ID          string
	Username    string
	Password    string
	Permissions []string
}

// RegisterTenantRequest describes a full tenant bring-up.
type RegisterTenantRequest struct {
	Tenant          tenants.Tenant
	BackendModules  []string
	FrontendModules []string
	Admin           Admin
	// Data directories are optional; an empty path skips the step.
	ReferenceDataDir string
	SampleDataDir    string
	DataOptions      dataload.Options
}

// RegisterTenantResult reports what a run did.
type RegisterTenantResult struct {
	Run
	TenantCreated bool
	Enabled       []modules.InstallAction
	AuthModule    string
	AdminCreated  bool
	Assigned      []string
	ReferenceData dataload.Report
	SampleData    dataload.Report
}

// RegisterTenant brings a tenant from absent to operational: tenant, module
// readiness, one batch enable, admin user created while the auth module is
// disabled, then login, root permissions and data. Data document failures
// are reported but do not fail the run.
func (o *Orchestrator) RegisterTenant(ctx context.Context, req RegisterTenantRequest) (*RegisterTenantResult, error) {
	tenant := req.Tenant.ID
	ctx, run := o.begin(ctx, "register-tenant", tenant)
	res := &RegisterTenantResult{Run: *run}
	defer func() { res.Run = *run }()

	if _, err := users.NewUser(req.Admin.ID, req.Admin.Username); err != nil {
		return res, &StepError{Step: StepCreateAdmin, Err: err}
	}

	var sess users.Session
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepWaitGateway, o.modules.WaitForGateway},
		{StepEnsureTenant, func(ctx context.Context) error {
			created, err := o.tenants.EnsureExists(ctx, req.Tenant)
			res.TenantCreated = created
			return err
		}},
		{StepWaitModules, func(ctx context.Context) error {
			return o.modules.WaitForBackendModules(ctx, uniqueModuleIDs(req.BackendModules, nil))
		}},
		{StepEnableModules, func(ctx context.Context) error {
			enabled, err := o.modules.Enable(ctx, tenant, uniqueModuleIDs(req.BackendModules, req.FrontendModules))
			res.Enabled = enabled
			return err
		}},
		{StepFindAuthModule, func(ctx context.Context) error {
			id, err := o.modules.FindByInterface(ctx, tenant, AuthInterface)
			res.AuthModule = id
			return err
		}},
		{StepDisableAuth, func(ctx context.Context) error {
			_, err := o.modules.Disable(ctx, tenant, []string{res.AuthModule})
			return err
		}},
		{StepCreateAdmin, func(ctx context.Context) error {
			created, err := o.ensureAdmin(ctx, tenant, req.Admin)
			res.AdminCreated = created
			return err
		}},
		{StepEnableAuth, func(ctx context.Context) error {
			_, err := o.modules.Enable(ctx, tenant, []string{res.AuthModule})
			return err
		}},
		{StepLogin, func(ctx context.Context) error {
			var err error
			sess, err = o.users.Login(ctx, tenant, req.Admin.Username, req.Admin.Password)
			return err
		}},
		{StepAssignRootPerms, func(ctx context.Context) error {
			assigned, err := o.assignMissingRoots(ctx, sess, req.Admin.ID)
			res.Assigned = assigned
			return err
		}},
		{StepReferenceData, func(ctx context.Context) error {
			rep, err := o.loadOptional(ctx, sess, req.ReferenceDataDir, req.DataOptions)
			res.ReferenceData = rep
			return err
		}},
		{StepSampleData, func(ctx context.Context) error {
			rep, err := o.loadOptional(ctx, sess, req.SampleDataDir, req.DataOptions)
			res.SampleData = rep
			return err
		}},
	}
	for _, s := range steps {
		if err := o.step(ctx, run, s.name, s.fn); err != nil {
			if s.name == StepCreateAdmin {
				o.logger.Warn("auth module left disabled", zap.String("tenant", tenant), zap.String("module", res.AuthModule))
			}
			return res, err
		}
		if s.name == StepLogin {
			ctx = users.ContextWithSession(ctx, sess)
		}
	}
	o.logger.Info("tenant registered",
		zap.String("tenant", tenant),
		zap.String("run_id", run.ID),
		zap.Int("permissions_assigned", len(res.Assigned)),
		zap.Int("documents_failed", len(res.ReferenceData.Failures)+len(res.SampleData.Failures)),
	)
	return res, nil
}

// ensureAdmin creates whatever part of the admin account is missing. It must
// run while the auth module is disabled.
func (o *Orchestrator) ensureAdmin(ctx context.Context, tenant string, admin Admin) (bool, error) {
	u, err := users.NewUser(admin.ID, admin.Username)
	if err != nil {
		return false, err
	}
	created := false
	if o.users.UserExists(ctx, tenant, "", u.ID) {
		o.logger.Info("admin user already exists", zap.String("user", u.ID))
	} else {
		if u, err = o.users.CreateUser(ctx, tenant, "", u); err != nil {
			return false, err
		}
		created = true
	}
	if o.users.CredentialsExist(ctx, tenant, "", u.ID) == "" {
		if err := o.users.CreateCredentials(ctx, tenant, "", u, admin.Password); err != nil {
			return created, err
		}
	}
	if o.users.PermissionsExist(ctx, tenant, "", u.ID) == "" {
		if _, err := o.users.CreatePermissions(ctx, tenant, "", u, admin.Permissions); err != nil {
			return created, err
		}
	}
	return created, nil
}

// assignMissingRoots grants every root permission the session lacks, one
// call at a time.
func (o *Orchestrator) assignMissingRoots(ctx context.Context, sess users.Session, userID string) ([]string, error) {
	permSetID := sess.Permissions.ID
	if permSetID == "" {
		permSetID = o.users.PermissionsExist(ctx, sess.Tenant, sess.Token, userID)
	}
	if permSetID == "" {
		return nil, fmt.Errorf("no permission set for user %s", userID)
	}
	roots, err := o.users.RootPermissions(ctx, sess)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, p := range roots {
		if !sess.HasPermission(p.PermissionName) {
			missing = append(missing, p.PermissionName)
		}
	}
	return o.users.AssignPermissions(ctx, sess, permSetID, missing)
}

func (o *Orchestrator) loadOptional(ctx context.Context, sess users.Session, dir string, opts dataload.Options) (dataload.Report, error) {
	if dir == "" {
		return dataload.Report{}, nil
	}
	return o.loader.Load(ctx, sess.Tenant, sess.Token, dir, opts)
}

// uniqueModuleIDs concatenates the id lists, keeping the first occurrence of
// each id.
func uniqueModuleIDs(backend, frontend []string) []string {
	out := make([]string, 0, len(backend)+len(frontend))
	seen := make(map[string]bool, cap(out))
	for _, id := range append(append([]string{}, backend...), frontend...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
