package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autoconfig.org/internal/buildtools"
	"autoconfig.org/internal/config"
	"autoconfig.org/internal/siteconfig"
	"autoconfig.org/internal/sitedb"
)

// siteOptions locate a site and its database.
type siteOptions struct {
	baseDir     string
	site        string
	instance    string
	settingsDir string
	hashID      bool

	dbURL           string
	dbName          string
	dbServer        string
	dbClient        string
	dbAdminUser     string
	dbAdminPassword string
	reuseDB         bool
	dropDB          bool
	schema          string

	solrURL        string
	siteURL        string
	updateSettings bool
}

func (s *siteOptions) locationOpts() []config.Opt {
	home, _ := os.UserHomeDir()
	return []config.Opt{
		{DestP: &s.baseDir, Flag: "basedir", Default: "/usr/local/vufind", Desc: "directory holding the sites"},
		{DestP: &s.site, Flag: "site", Desc: "the site to deploy"},
		{DestP: &s.instance, Flag: "instance", Default: "staging", Desc: "the instance of the site"},
		{DestP: &s.settingsDir, Flag: "settings-dir", Default: filepath.Join(home, ".autoconfig"), Desc: "directory of per-deployment defaults"},
		{DestP: &s.hashID, Flag: "hash-id", Default: false, Desc: "derive deploy id and database name from a digest of basedir"},
	}
}

func (s *siteOptions) databaseOpts() []config.Opt {
	return []config.Opt{
		{DestP: &s.dbURL, Flag: "db-url", Desc: "site database url; read from the instance config.ini when empty"},
		{DestP: &s.dbName, Flag: "db-name", Desc: "rewrite the database and user of the instance config.ini to this name"},
		{DestP: &s.dbServer, Flag: "db-server", Default: "localhost", Desc: "database server of a generated database url"},
		{DestP: &s.dbClient, Flag: "db-client", Default: "localhost", Desc: "host the site user connects from"},
		{DestP: &s.dbAdminUser, Flag: "db-admin-user", Desc: "database server admin user"},
		{DestP: &s.dbAdminPassword, Flag: "db-admin-password", Desc: "database server admin password"},
		{DestP: &s.schema, Flag: "schema", Default: "module/VuFind/sql/mysql.sql", Desc: "schema file or folder, relative to basedir"},
	}
}

func (s *siteOptions) validate() error {
	if strings.TrimSpace(s.site) == "" {
		return fmt.Errorf("%w: --site is required", config.ErrInvalidConfig)
	}
	return nil
}

func (s *siteOptions) generator(logger *zap.Logger) (*siteconfig.Generator, error) {
	deployID, dbName := siteconfig.DeployNames(s.baseDir, s.site, s.hashID)
	return siteconfig.NewGenerator(siteconfig.Options{
		BaseDir:     s.baseDir,
		Site:        s.site,
		Instance:    s.instance,
		SettingsDir: s.settingsDir,
		DeployID:    deployID,
		DBName:      dbName,
		DBServer:    s.dbServer,
		SolrURL:     s.solrURL,
		SiteURL:     s.siteURL,
	}, logger)
}

// databaseURL is --db-url, or the url stored in the instance config.ini.
func (s *siteOptions) databaseURL(logger *zap.Logger) (string, error) {
	if s.dbURL != "" {
		return s.dbURL, nil
	}
	g, err := s.generator(logger)
	if err != nil {
		return "", err
	}
	return sitedb.DSNFromINI(filepath.Join(g.InstanceConfigDir(), siteconfig.MainConfig), s.dbName, s.dbServer)
}

func (s *siteOptions) provisioner(logger *zap.Logger) (*sitedb.Provisioner, error) {
	mode := sitedb.Refuse
	switch {
	case s.reuseDB && s.dropDB:
		return nil, fmt.Errorf("%w: --reuse-db and --drop-db exclude each other", config.ErrInvalidConfig)
	case s.reuseDB:
		mode = sitedb.Reuse
	case s.dropDB:
		mode = sitedb.Drop
	}
	return sitedb.NewProvisioner(
		sitedb.WithAdmin(sitedb.Admin{User: s.dbAdminUser, Password: s.dbAdminPassword}),
		sitedb.WithClientHost(s.dbClient),
		sitedb.WithMode(mode),
		sitedb.WithLogger(logger),
	), nil
}

func (s *siteOptions) schemaPath() string {
	if filepath.IsAbs(s.schema) {
		return s.schema
	}
	return filepath.Join(s.baseDir, s.schema)
}

func newSiteCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Database, configuration and build of a site instance",
	}
	cmd.AddCommand(
		newCreateDBCommand(a),
		newRemoveDBCommand(a),
		newInitSchemaCommand(a),
		newDeployConfigCommand(a),
		newBuildCommand(a),
	)
	return cmd
}

func newCreateDBCommand(a *app) *cobra.Command {
	s := &siteOptions{}
	opts := concat(s.locationOpts(), s.databaseOpts(), []config.Opt{
		{DestP: &s.reuseDB, Flag: "reuse-db", Default: false, Desc: "reuse an existing database and recreate its user"},
		{DestP: &s.dropDB, Flag: "drop-db", Default: false, Desc: "drop an existing database and start over"},
	})
	cmd := &cobra.Command{
		Use:   "create-db",
		Short: "Create the site database and user, and apply the schema to a new database",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		if err := s.validate(); err != nil {
			return err
		}
		dsn, err := s.databaseURL(a.logger)
		if err != nil {
			return err
		}
		p, err := s.provisioner(a.logger)
		if err != nil {
			return err
		}
		out, err := p.CreateDB(ctx, dsn)
		if err != nil {
			return err
		}
		res := map[string]any{
			"dropped":          out.Dropped,
			"database_created": out.DatabaseCreated,
			"user_created":     out.UserCreated,
		}
		if out.NeedsSchema() {
			applied, err := applySchema(ctx, p, dsn, s.schemaPath())
			if err != nil {
				return err
			}
			res["schema"] = applied
		}
		return printYAML(cmd.OutOrStdout(), res)
	})
}

func applySchema(ctx context.Context, p *sitedb.Provisioner, dsn, path string) ([]string, error) {
	db, dialect, err := p.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return sitedb.NewSchema(db, dialect, "").Apply(ctx, path)
}

func newRemoveDBCommand(a *app) *cobra.Command {
	s := &siteOptions{}
	opts := concat(s.locationOpts(), s.databaseOpts())
	cmd := &cobra.Command{
		Use:   "remove-db",
		Short: "Drop the site user and database",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		if err := s.validate(); err != nil {
			return err
		}
		dsn, err := s.databaseURL(a.logger)
		if err != nil {
			return err
		}
		p, err := s.provisioner(a.logger)
		if err != nil {
			return err
		}
		return p.RemoveDB(ctx, dsn)
	})
}

func newInitSchemaCommand(a *app) *cobra.Command {
	s := &siteOptions{}
	var list bool
	opts := concat(s.locationOpts(), s.databaseOpts(), []config.Opt{
		{DestP: &list, Flag: "list", Default: false, Desc: "list the applied schema files instead of applying"},
	})
	cmd := &cobra.Command{
		Use:   "init-schema",
		Short: "Apply pending schema files to the site database",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		if err := s.validate(); err != nil {
			return err
		}
		dsn, err := s.databaseURL(a.logger)
		if err != nil {
			return err
		}
		p, err := s.provisioner(a.logger)
		if err != nil {
			return err
		}
		var names []string
		if list {
			names, err = appliedSchema(ctx, p, dsn)
		} else {
			names, err = applySchema(ctx, p, dsn, s.schemaPath())
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return err
	})
}

func appliedSchema(ctx context.Context, p *sitedb.Provisioner, dsn string) ([]string, error) {
	db, dialect, err := p.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return sitedb.NewSchema(db, dialect, "").Applied(ctx)
}

func newDeployConfigCommand(a *app) *cobra.Command {
	s := &siteOptions{}
	opts := concat(s.locationOpts(), []config.Opt{
		{DestP: &s.dbServer, Flag: "db-server", Default: "localhost", Desc: "database server of a generated database url"},
		{DestP: &s.solrURL, Flag: "solr-url", Desc: "url of the Solr index"},
		{DestP: &s.siteURL, Flag: "url", Desc: "public url of the site"},
		{DestP: &s.updateSettings, Flag: "update-settings", Default: false, Desc: "store the effective defaults for the next deployment"},
	})
	cmd := &cobra.Command{
		Use:   "deploy-config",
		Short: "Generate the instance configuration from the site's parent configs",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		if err := s.validate(); err != nil {
			return err
		}
		g, err := s.generator(a.logger)
		if err != nil {
			return err
		}
		defaults, err := g.FetchDefaults()
		if err != nil {
			return err
		}
		configs, err := g.FindParentConfigs()
		if err != nil {
			return err
		}
		languages, err := g.FindParentLanguages()
		if err != nil {
			return err
		}
		written, err := g.CreateConfigs(defaults, configs, languages)
		if err != nil {
			return err
		}
		if s.updateSettings {
			if err := g.UpdateDefaults(defaults); err != nil {
				return err
			}
		}
		for _, f := range written {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	})
}

func newBuildCommand(a *app) *cobra.Command {
	var dir string
	var steps []string
	opts := []config.Opt{
		{DestP: &dir, Flag: "basedir", Default: "/usr/local/vufind", Desc: "directory to build in"},
		{DestP: &steps, Flag: "steps", Default: []string{"npm", "composer", "grunt"}, Desc: "build steps to run, in order"},
	}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Install node and PHP dependencies and build the stylesheets",
		Args:  cobra.NoArgs,
	}
	return a.command(cmd, opts, func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		var selected []buildtools.Step
		for _, name := range steps {
			switch strings.TrimSpace(name) {
			case "npm":
				selected = append(selected, buildtools.NPMInstall(dir))
			case "composer":
				selected = append(selected, buildtools.ComposerInstall(dir))
			case "grunt":
				g := buildtools.Grunt(dir)
				g.Optional = true
				selected = append(selected, g)
			default:
				return fmt.Errorf("%w: unknown build step %q", config.ErrInvalidConfig, name)
			}
		}
		r := buildtools.NewRunner(selected,
			buildtools.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
			buildtools.WithLogger(a.logger),
		)
		_, err := r.Run(ctx)
		return err
	})
}
