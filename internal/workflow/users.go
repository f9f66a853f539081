package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/users"
)

// CreateUserRequest describes a user to provision on an existing tenant.
type CreateUserRequest struct {
	Tenant string
	// Token is only needed when the tenant enforces authentication.
	Token    string
	User     Admin
	Recreate bool
}

// CreateUser provisions a user with credentials and a permission set. An
// existing user is torn down first when Recreate is set, otherwise the call
// fails with ErrUserExists.
func (o *Orchestrator) CreateUser(ctx context.Context, req CreateUserRequest) (*Run, error) {
	ctx, run := o.begin(ctx, "create-user", req.Tenant)
	u, err := users.NewUser(req.User.ID, req.User.Username)
	if err != nil {
		return run, err
	}

	if err := o.step(ctx, run, StepWaitGateway, o.modules.WaitForGateway); err != nil {
		return run, err
	}
	err = o.step(ctx, run, "check-user", func(ctx context.Context) error {
		if !o.users.UserExists(ctx, req.Tenant, req.Token, u.ID) {
			return nil
		}
		if !req.Recreate {
			return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
		}
		_, err := o.removeUser(ctx, req.Tenant, req.Token, u.ID)
		return err
	})
	if err != nil {
		return run, err
	}
	err = o.step(ctx, run, "create-user", func(ctx context.Context) error {
		created, err := o.users.CreateUser(ctx, req.Tenant, req.Token, u)
		if err != nil {
			return err
		}
		// Credentials and permission set only depend on the user record.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return o.users.CreateCredentials(gctx, req.Tenant, req.Token, created, req.User.Password)
		})
		g.Go(func() error {
			_, err := o.users.CreatePermissions(gctx, req.Tenant, req.Token, created, req.User.Permissions)
			return err
		})
		return g.Wait()
	})
	return run, err
}

// RemoveUserRequest identifies a user to tear down.
type RemoveUserRequest struct {
	Tenant string
	Token  string
	UserID string
}

// RemoveResult reports which records were deleted.
type RemoveResult struct {
	Run
	User        bool
	Permissions bool
	Credentials bool
}

// RemoveUser deletes the user, then its permission set, then its
// credentials. Each record is checked on its own; an absent one is skipped.
func (o *Orchestrator) RemoveUser(ctx context.Context, req RemoveUserRequest) (*RemoveResult, error) {
	ctx, run := o.begin(ctx, "remove-user", req.Tenant)
	res := &RemoveResult{}
	defer func() { res.Run = *run }()

	if err := o.step(ctx, run, StepWaitGateway, o.modules.WaitForGateway); err != nil {
		return res, err
	}
	err := o.step(ctx, run, "remove-user", func(ctx context.Context) error {
		r, err := o.removeUser(ctx, req.Tenant, req.Token, req.UserID)
		res.User, res.Permissions, res.Credentials = r.User, r.Permissions, r.Credentials
		return err
	})
	return res, err
}

func (o *Orchestrator) removeUser(ctx context.Context, tenant, token, userID string) (RemoveResult, error) {
	var res RemoveResult
	if o.users.UserExists(ctx, tenant, token, userID) {
		if err := o.users.DeleteUser(ctx, tenant, token, userID); err != nil {
			return res, err
		}
		res.User = true
	}
	if id := o.users.PermissionsExist(ctx, tenant, token, userID); id != "" {
		if err := o.users.DeletePermissions(ctx, tenant, token, id); err != nil {
			return res, err
		}
		res.Permissions = true
	}
	if id := o.users.CredentialsExist(ctx, tenant, token, userID); id != "" {
		if err := o.users.DeleteCredentials(ctx, tenant, token, id); err != nil {
			return res, err
		}
		res.Credentials = true
	}
	o.logger.Info("user removed",
		zap.String("tenant", tenant),
		zap.String("user", userID),
		zap.Bool("user_deleted", res.User),
		zap.Bool("permissions_deleted", res.Permissions),
		zap.Bool("credentials_deleted", res.Credentials),
	)
	return res, nil
}

// Login identifies the operator running a workflow.
type Login struct {
	Tenant   string
	Username string
	Password string
}

// AddPermissionsRequest grants permissions to the logged in user.
type AddPermissionsRequest struct {
	Login       Login
	Permissions []string
	// All grants every root permission the user does not hold yet.
	All bool
}

// AddPermissions logs in and assigns permissions to the session's own
// permission set, one call each. It returns the names assigned.
func (o *Orchestrator) AddPermissions(ctx context.Context, req AddPermissionsRequest) ([]string, error) {
	ctx, run := o.begin(ctx, "add-permission", req.Login.Tenant)
	if err := o.step(ctx, run, StepWaitGateway, o.modules.WaitForGateway); err != nil {
		return nil, err
	}
	var sess users.Session
	if err := o.step(ctx, run, StepLogin, func(ctx context.Context) error {
		var err error
		sess, err = o.users.Login(ctx, req.Login.Tenant, req.Login.Username, req.Login.Password)
		return err
	}); err != nil {
		return nil, err
	}
	var assigned []string
	err := o.step(ctx, run, "assign-permissions", func(ctx context.Context) error {
		if req.All {
			var err error
			assigned, err = o.assignMissingRoots(ctx, sess, sess.User.ID)
			return err
		}
		if sess.Permissions.ID == "" {
			return fmt.Errorf("session of %s carries no permission set", req.Login.Username)
		}
		var err error
		assigned, err = o.users.AssignPermissions(ctx, sess, sess.Permissions.ID, req.Permissions)
		return err
	})
	return assigned, err
}

// ListUser logs in and fetches the record of userID. A missing user is
// reported as found == false with a nil error.
func (o *Orchestrator) ListUser(ctx context.Context, login Login, userID string) (users.User, bool, error) {
	ctx, run := o.begin(ctx, "list-user", login.Tenant)
	if err := o.step(ctx, run, StepWaitGateway, o.modules.WaitForGateway); err != nil {
		return users.User{}, false, err
	}
	var sess users.Session
	if err := o.step(ctx, run, StepLogin, func(ctx context.Context) error {
		var err error
		sess, err = o.users.Login(ctx, login.Tenant, login.Username, login.Password)
		return err
	}); err != nil {
		return users.User{}, false, err
	}
	u, err := o.users.GetUser(ctx, sess.Tenant, sess.Token, userID)
	switch {
	case gateway.IsNotFound(err):
		return users.User{}, false, nil
	case err != nil:
		return users.User{}, false, err
	}
	o.logger.Info("user found",
		zap.String("run_id", run.ID),
		zap.String("user", u.ID),
		zap.String("username", u.Username),
		zap.Bool("active", u.Active),
	)
	return u, true, nil
}
