// Package buildtools runs the front-end and PHP build steps of a site.
package buildtools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Step is one command run in Dir.
type Step struct {
	Name string
	Dir  string
	Args []string
	// Requires is a path relative to Dir; the step is skipped when it is
	// missing.
	Requires string
	// Optional failures are logged and the run continues.
	Optional bool
}

// Exec runs a command. The default is os/exec.
type Exec func(ctx context.Context, dir string, args []string, stdout, stderr io.Writer) error

// Runner executes steps in order, stopping at the first failure.
type Runner struct {
	Steps  []Step
	stdout io.Writer
	stderr io.Writer
	exec   Exec
	logger *zap.Logger
}

// Option configures Runner.
type Option func(*Runner)

// WithOutput redirects command output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout, r.stderr = stdout, stderr
	}
}

// WithExec replaces os/exec.
func WithExec(e Exec) Option {
	return func(r *Runner) {
		if e != nil {
			r.exec = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner constructs a Runner for steps.
func NewRunner(steps []Step, opts ...Option) *Runner {
	r := &Runner{
		Steps:  steps,
		stdout: os.Stdout,
		stderr: os.Stderr,
		exec:   runCommand,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the configured steps and returns the names of those that ran.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	var ran []string
	for _, s := range r.Steps {
		if len(s.Args) == 0 {
			continue
		}
		if s.Requires != "" {
			if _, err := os.Stat(filepath.Join(s.Dir, s.Requires)); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return ran, err
				}
				r.logger.Info("build step skipped", zap.String("step", s.Name), zap.String("missing", s.Requires))
				continue
			}
		}
		r.logger.Info("build step", zap.String("step", s.Name), zap.String("dir", s.Dir))
		if err := r.exec(ctx, s.Dir, s.Args, r.stdout, r.stderr); err != nil {
			err = fmt.Errorf("command %q failed: %w", strings.Join(s.Args, " "), err)
			if s.Optional {
				r.logger.Warn("build step failed, continuing", zap.String("step", s.Name), zap.Error(err))
				continue
			}
			return ran, err
		}
		ran = append(ran, s.Name)
	}
	return ran, nil
}

func runCommand(ctx context.Context, dir string, args []string, stdout, stderr io.Writer) error {
	c := exec.CommandContext(ctx, args[0], args[1:]...)
	c.Dir = dir
	c.Stdout = stdout
	c.Stderr = stderr
	return c.Run()
}

// NPMInstall installs node dependencies when dir has a package.json.
func NPMInstall(dir string) Step {
	return Step{Name: "npm", Dir: dir, Args: []string{"npm", "install"}, Requires: "package.json"}
}

// ComposerPhar is where npm installs composer.
const ComposerPhar = "node_modules/getcomposer/composer.phar"

// ComposerInstall installs PHP dependencies with the composer that npm
// installed; it is skipped when composer is not there.
func ComposerInstall(dir string) Step {
	return Step{
		Name:     "composer",
		Dir:      dir,
		Args:     []string{"php", ComposerPhar, "install", "--prefer-dist", "--optimize-autoloader"},
		Requires: ComposerPhar,
	}
}

// Grunt builds the site's stylesheets.
func Grunt(dir string) Step {
	return Step{Name: "grunt", Dir: dir, Args: []string{"grunt"}}
}

// SiteBuild is the full build of a site: npm, composer, then grunt. A
// failing grunt does not fail the build.
func SiteBuild(dir string) []Step {
	g := Grunt(dir)
	g.Optional = true
	return []Step{NPMInstall(dir), ComposerInstall(dir), g}
}
