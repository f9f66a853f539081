// Package sitedb provisions the relational database of a site instance:
// database and database user, the vanilla schema, and their removal.
package sitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Mode decides what happens to a database that already exists but cannot be
// reached with the site credentials.
type Mode int

const (
	// Refuse fails with ErrDatabaseExists.
	Refuse Mode = iota
	// Reuse keeps the database and (re)creates the site user.
	Reuse
	// Drop removes database and user and starts over. It also applies to a
	// database that is reachable.
	Drop
)

// Opener opens a database handle; sql.Open in production.
type Opener func(driver, dsn string) (*sql.DB, error)

// Admin are the server credentials used to create and drop databases.
// Empty fields take the dialect defaults and the site host.
type Admin struct {
	User     string
	Password string
	Host     string
	Port     string
}

// Outcome reports what CreateDB did.
type Outcome struct {
	Dropped         bool
	DatabaseCreated bool
	UserCreated     bool
}

// NeedsSchema reports whether the database was created by this call.
func (o Outcome) NeedsSchema() bool { return o.DatabaseCreated }

// Provisioner creates and removes site databases.
type Provisioner struct {
	admin  Admin
	client string
	mode   Mode
	open   Opener
	logger *zap.Logger
}

// Option configures Provisioner.
type Option func(*Provisioner)

// WithAdmin sets the server admin credentials.
func WithAdmin(a Admin) Option {
	return func(p *Provisioner) { p.admin = a }
}

// WithClientHost sets the host the site user may connect from (MySQL only).
func WithClientHost(host string) Option {
	return func(p *Provisioner) {
		if host != "" {
			p.client = host
		}
	}
}

// WithMode sets how an existing database is handled.
func WithMode(m Mode) Option {
	return func(p *Provisioner) { p.mode = m }
}

// WithOpener replaces sql.Open.
func WithOpener(o Opener) Option {
	return func(p *Provisioner) {
		if o != nil {
			p.open = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(opts ...Option) *Provisioner {
	p := &Provisioner{
		client: "localhost",
		mode:   Refuse,
		open:   sql.Open,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateDB makes the site database reachable with the credentials in dsn.
// A reachable database is left alone unless the mode is Drop. An
// unreachable one is created, reused or dropped and recreated according to
// the mode.
func (p *Provisioner) CreateDB(ctx context.Context, rawDSN string) (Outcome, error) {
	dsn, err := ParseDSN(rawDSN)
	if err != nil {
		return Outcome{}, err
	}
	d, _ := dialectFor(dsn.Scheme)
	var out Outcome
	mode := p.mode

	if err := p.ping(ctx, d, dsn); err == nil {
		if mode != Drop {
			p.logger.Info("site database reachable", zap.String("database", dsn.Database))
			return out, nil
		}
		if err := p.drop(ctx, d, dsn); err != nil {
			return out, err
		}
		out.Dropped = true
		mode = Refuse
	} else {
		p.logger.Debug("site database not reachable", zap.String("dsn", dsn.Redacted()), zap.Error(err))
	}

	admin, err := p.adminDB(ctx, d, dsn)
	if err != nil {
		return out, err
	}
	defer admin.Close()

	exists, err := databaseExists(ctx, admin, d, dsn.Database)
	if err != nil {
		return out, err
	}
	if exists {
		switch mode {
		case Reuse:
			if err := execAll(ctx, admin, d.CreateUser(dsn.User, dsn.Password, p.client, dsn.Database)); err != nil {
				return out, fmt.Errorf("create user %s: %w", dsn.User, err)
			}
			out.UserCreated = true
			p.logger.Info("site database reused", zap.String("database", dsn.Database))
			return out, nil
		case Drop:
			if err := p.dropWith(ctx, admin, d, dsn); err != nil {
				return out, err
			}
			out.Dropped = true
		default:
			return out, fmt.Errorf("%w: %s", ErrDatabaseExists, dsn.Database)
		}
	}

	if err := execAll(ctx, admin, d.CreateDatabase(dsn.Database)); err != nil {
		return out, fmt.Errorf("create database %s: %w", dsn.Database, err)
	}
	out.DatabaseCreated = true
	if err := execAll(ctx, admin, d.CreateUser(dsn.User, dsn.Password, p.client, dsn.Database)); err != nil {
		return out, fmt.Errorf("create user %s: %w", dsn.User, err)
	}
	out.UserCreated = true
	p.logger.Info("site database created", zap.String("database", dsn.Database), zap.String("user", dsn.User))
	return out, nil
}

// RemoveDB drops the site user and then the site database.
func (p *Provisioner) RemoveDB(ctx context.Context, rawDSN string) error {
	dsn, err := ParseDSN(rawDSN)
	if err != nil {
		return err
	}
	d, _ := dialectFor(dsn.Scheme)
	if err := p.drop(ctx, d, dsn); err != nil {
		return err
	}
	p.logger.Info("site database removed", zap.String("database", dsn.Database))
	return nil
}

// Open connects with the site credentials.
func (p *Provisioner) Open(ctx context.Context, rawDSN string) (*sql.DB, Dialect, error) {
	dsn, err := ParseDSN(rawDSN)
	if err != nil {
		return nil, nil, err
	}
	d, _ := dialectFor(dsn.Scheme)
	db, err := p.open(d.Driver(), d.ConnString(dsn.User, dsn.Password, dsn.Host, portOr(dsn.Port, d), dsn.Database))
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect to %s: %w", dsn.Redacted(), err)
	}
	return db, d, nil
}

func (p *Provisioner) ping(ctx context.Context, d Dialect, dsn DSN) error {
	db, err := p.open(d.Driver(), d.ConnString(dsn.User, dsn.Password, dsn.Host, portOr(dsn.Port, d), dsn.Database))
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func (p *Provisioner) adminDB(ctx context.Context, d Dialect, dsn DSN) (*sql.DB, error) {
	a := p.admin
	if a.User == "" {
		a.User = d.DefaultAdmin()
	}
	if a.Host == "" {
		a.Host = dsn.Host
	}
	if a.Port == "" {
		a.Port = portOr(dsn.Port, d)
	}
	db, err := p.open(d.Driver(), d.ConnString(a.User, a.Password, a.Host, a.Port, ""))
	if err != nil {
		return nil, fmt.Errorf("open admin connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("admin connection to %s as %s: %w", a.Host, a.User, err)
	}
	return db, nil
}

func (p *Provisioner) drop(ctx context.Context, d Dialect, dsn DSN) error {
	admin, err := p.adminDB(ctx, d, dsn)
	if err != nil {
		return err
	}
	defer admin.Close()
	return p.dropWith(ctx, admin, d, dsn)
}

func (p *Provisioner) dropWith(ctx context.Context, admin *sql.DB, d Dialect, dsn DSN) error {
	// A postgres role that still owns a database cannot be dropped.
	if d.Name() == "postgres" {
		if _, err := admin.ExecContext(ctx, d.DropDatabase(dsn.Database)); err != nil {
			return fmt.Errorf("drop database %s: %w", dsn.Database, err)
		}
		if _, err := admin.ExecContext(ctx, d.DropUser(dsn.User, p.client)); err != nil {
			return fmt.Errorf("drop user %s: %w", dsn.User, err)
		}
		return nil
	}
	if _, err := admin.ExecContext(ctx, d.DropUser(dsn.User, p.client)); err != nil {
		return fmt.Errorf("drop user %s: %w", dsn.User, err)
	}
	if _, err := admin.ExecContext(ctx, d.DropDatabase(dsn.Database)); err != nil {
		return fmt.Errorf("drop database %s: %w", dsn.Database, err)
	}
	return nil
}

func databaseExists(ctx context.Context, db *sql.DB, d Dialect, name string) (bool, error) {
	var found string
	err := db.QueryRowContext(ctx, d.DatabaseExists(), name).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("look up database %s: %w", name, err)
	}
	return strings.EqualFold(found, name), nil
}

func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func portOr(port string, d Dialect) string {
	if port == "" {
		return d.DefaultPort()
	}
	return port
}
