package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autoconfig.org/internal/config"
	"autoconfig.org/internal/dataload"
	"autoconfig.org/internal/tenants"
	"autoconfig.org/internal/workflow"
)

func newFolioCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folio",
		Short: "Tenant, module, user and data operations on an Okapi gateway",
	}
	cmd.AddCommand(
		newRegisterTenantCommand(a),
		newIntroduceModuleCommand(a),
		newListModulesCommand(a),
		newCreateUserCommand(a),
		newRemoveUserCommand(a),
		newListUserCommand(a),
		newAddPermissionCommand(a),
		newLoadDataCommand(a),
	)
	return cmd
}

func concat(groups ...[]config.Opt) []config.Opt {
	var out []config.Opt
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func newRegisterTenantCommand(a *app) *cobra.Command {
	var backend, frontend []string
	var referenceDir, sampleDir string
	opts := concat(
		config.TenantOpts(&a.cfg),
		config.AdminOpts(&a.cfg),
		config.DataOpts(&a.cfg),
		[]config.Opt{
			{DestP: &backend, Flag: "install-backend-modules", Desc: "backend module ids to wait for and enable"},
			{DestP: &frontend, Flag: "install-frontend-modules", Desc: "frontend module ids to enable"},
			{DestP: &referenceDir, Flag: "reference-data-dir", Desc: "directory of reference data to load"},
			{DestP: &sampleDir, Flag: "sample-data-dir", Desc: "directory of sample data to load"},
		},
	)
	cmd := &cobra.Command{
		Use:   "register-tenant",
		Short: "Create a tenant, enable its modules, create its admin and load its data",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		dataOpts, err := a.cfg.DataOptions()
		if err != nil {
			return err
		}
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		res, err := o.RegisterTenant(ctx, workflow.RegisterTenantRequest{
			Tenant: tenants.Tenant{
				ID:          a.cfg.TenantID,
				Name:        a.cfg.TenantName,
				Description: a.cfg.TenantDescription,
			},
			BackendModules:   backend,
			FrontendModules:  frontend,
			Admin:            a.cfg.Admin(),
			ReferenceDataDir: referenceDir,
			SampleDataDir:    sampleDir,
			DataOptions:      dataOpts,
		})
		if err != nil {
			return err
		}
		enabled := make([]string, 0, len(res.Enabled))
		for _, e := range res.Enabled {
			enabled = append(enabled, e.ID)
		}
		return printYAML(cmd.OutOrStdout(), map[string]any{
			"run":            res.ID,
			"tenant":         a.cfg.TenantID,
			"tenant_created": res.TenantCreated,
			"enabled":        enabled,
			"auth_module":    res.AuthModule,
			"admin_created":  res.AdminCreated,
			"assigned":       len(res.Assigned),
			"reference_data": reportSummary(res.ReferenceData),
			"sample_data":    reportSummary(res.SampleData),
		})
	})
}

func newIntroduceModuleCommand(a *app) *cobra.Command {
	var req workflow.IntroduceRequest
	opts := []config.Opt{
		{DestP: &req.File, Flag: "from-file", Desc: `module descriptor file, "-" reads standard input`},
		{DestP: &req.Folder, Flag: "from-folder", Desc: "folder of module descriptors"},
	}
	cmd := &cobra.Command{
		Use:   "introduce-module",
		Short: "Register module descriptors with the gateway",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		ids, err := o.IntroduceModules(ctx, req)
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return err
	})
}

func newListModulesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-modules [module-id]",
		Short: "List registered modules, or check a single one",
		Args:  cobra.MaximumNArgs(1),
	}
	return a.command(cmd, nil, func(ctx context.Context, cmd *cobra.Command, args []string) error {
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		mods, err := o.ListModules(ctx, id)
		if err != nil {
			return err
		}
		if id != "" {
			fmt.Fprintln(cmd.OutOrStdout(), len(mods) > 0)
			return nil
		}
		for _, m := range mods {
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
		}
		return nil
	})
}

func newCreateUserCommand(a *app) *cobra.Command {
	var recreate bool
	var token string
	opts := concat(
		config.TenantOpts(&a.cfg),
		config.AdminOpts(&a.cfg),
		[]config.Opt{
			{DestP: &recreate, Flag: "recreate-user", Default: false, Desc: "remove an existing user first"},
			{DestP: &token, Flag: "token", Desc: "session token, when the tenant enforces authentication"},
		},
	)
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user with credentials and permissions",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		run, err := o.CreateUser(ctx, workflow.CreateUserRequest{
			Tenant:   a.cfg.TenantID,
			Token:    token,
			User:     a.cfg.Admin(),
			Recreate: recreate,
		})
		if err != nil {
			return err
		}
		a.logger.Info("user created", zap.String("run", run.ID), zap.String("user", a.cfg.AdminUsername))
		return nil
	})
}

func newRemoveUserCommand(a *app) *cobra.Command {
	var token string
	opts := concat(
		config.TenantOpts(&a.cfg),
		config.AdminOpts(&a.cfg)[:1],
		[]config.Opt{{DestP: &token, Flag: "token", Desc: "session token, when the tenant enforces authentication"}},
	)
	cmd := &cobra.Command{
		Use:   "remove-user",
		Short: "Delete a user, its permission set and its credentials",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		res, err := o.RemoveUser(ctx, workflow.RemoveUserRequest{
			Tenant: a.cfg.TenantID,
			Token:  token,
			UserID: a.cfg.AdminID,
		})
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), map[string]bool{
			"user":        res.User,
			"permissions": res.Permissions,
			"credentials": res.Credentials,
		})
	})
}

func newListUserCommand(a *app) *cobra.Command {
	opts := concat(config.TenantOpts(&a.cfg), config.AdminOpts(&a.cfg))
	cmd := &cobra.Command{
		Use:   "list-user",
		Short: "Report whether a user exists",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		_, found, err := o.ListUser(ctx, a.cfg.Login(), a.cfg.AdminID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), found)
		return nil
	})
}

func newAddPermissionCommand(a *app) *cobra.Command {
	var perms []string
	var all bool
	opts := concat(
		config.TenantOpts(&a.cfg),
		config.AdminOpts(&a.cfg),
		[]config.Opt{
			{DestP: &perms, Flag: "perms", Default: []string{"perms.all"}, Desc: "permissions to assign"},
			{DestP: &all, Flag: "all", Default: false, Desc: "assign every root permission not held yet"},
		},
	)
	cmd := &cobra.Command{
		Use:   "add-permission",
		Short: "Assign permissions to the logged in user",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		assigned, err := o.AddPermissions(ctx, workflow.AddPermissionsRequest{
			Login:       a.cfg.Login(),
			Permissions: perms,
			All:         all,
		})
		for _, p := range assigned {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return err
	})
}

func newLoadDataCommand(a *app) *cobra.Command {
	var dir string
	opts := concat(
		config.TenantOpts(&a.cfg),
		config.AdminOpts(&a.cfg),
		config.DataOpts(&a.cfg),
		[]config.Opt{{DestP: &dir, Flag: "dir", Desc: "directory of JSON documents"}},
	)
	cmd := &cobra.Command{
		Use:   "load-data",
		Short: "Load a directory of JSON documents as the logged in user",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%w: --dir is required", config.ErrInvalidConfig)
		}
		dataOpts, err := a.cfg.DataOptions()
		if err != nil {
			return err
		}
		o, err := a.orchestrator(cmd)
		if err != nil {
			return err
		}
		report, err := o.LoadData(ctx, workflow.LoadDataRequest{
			Login:   a.cfg.Login(),
			Dir:     dir,
			Options: dataOpts,
		})
		if err != nil {
			return err
		}
		for _, f := range report.Failures {
			fmt.Fprintln(cmd.ErrOrStderr(), f.Error())
		}
		return printYAML(cmd.OutOrStdout(), reportSummary(report))
	})
}

func reportSummary(r dataload.Report) map[string]int {
	return map[string]int{
		"loaded":  len(r.Loaded),
		"skipped": len(r.Skipped),
		"failed":  len(r.Failures),
	}
}
