package workflow

import (
	"context"

	"autoconfig.org/internal/dataload"
	"autoconfig.org/internal/modules"
	"autoconfig.org/internal/users"
)

// IntroduceRequest names one descriptor file ("-" for stdin) or a folder of
// descriptors. Exactly one must be set.
type IntroduceRequest struct {
	File   string
	Folder string
}

// IntroduceModules waits for the gateway and registers the descriptors,
// replacing modules that are already registered.
func (o *Orchestrator) IntroduceModules(ctx context.Context, req IntroduceRequest) ([]string, error) {
	switch {
	case req.File == "" && req.Folder == "":
		return nil, ErrNoSource
	case req.File != "" && req.Folder != "":
		return nil, ErrConflictingArgs
	}
	ctx, run := o.begin(ctx, "introduce-module", "")
	if err := o.step(ctx, run, StepWaitGateway, o.modules.WaitForGateway); err != nil {
		return nil, err
	}
	var introduced []string
	err := o.step(ctx, run, "introduce-modules", func(ctx context.Context) error {
		if req.File != "" {
			id, err := o.modules.IntroduceFile(ctx, req.File)
			if err == nil {
				introduced = append(introduced, id)
			}
			return err
		}
		var err error
		introduced, err = o.modules.IntroduceDir(ctx, req.Folder)
		return err
	})
	return introduced, err
}

// ListModules lists registered modules, or only moduleID when set. A
// missing module yields an empty list.
func (o *Orchestrator) ListModules(ctx context.Context, moduleID string) ([]modules.Module, error) {
	if err := o.modules.WaitForGateway(ctx); err != nil {
		return nil, err
	}
	if moduleID != "" {
		if !o.modules.Exists(ctx, moduleID) {
			return nil, nil
		}
		return []modules.Module{{ID: moduleID}}, nil
	}
	return o.modules.List(ctx)
}

// LoadDataRequest loads one directory as the logged in user.
type LoadDataRequest struct {
	Login   Login
	Dir     string
	Options dataload.Options
}

// LoadData logs in and bulk-loads req.Dir. Document failures are in the
// report, not in the error.
func (o *Orchestrator) LoadData(ctx context.Context, req LoadDataRequest) (dataload.Report, error) {
	ctx, run := o.begin(ctx, "load-data", req.Login.Tenant)
	if err := o.step(ctx, run, StepWaitGateway, o.modules.WaitForGateway); err != nil {
		return dataload.Report{}, err
	}
	var sess users.Session
	if err := o.step(ctx, run, StepLogin, func(ctx context.Context) error {
		var err error
		sess, err = o.users.Login(ctx, req.Login.Tenant, req.Login.Username, req.Login.Password)
		return err
	}); err != nil {
		return dataload.Report{}, err
	}
	var rep dataload.Report
	err := o.step(ctx, run, "load-data", func(ctx context.Context) error {
		var err error
		rep, err = o.loader.Load(ctx, sess.Tenant, sess.Token, req.Dir, req.Options)
		return err
	})
	return rep, err
}
