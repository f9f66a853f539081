package sitedb

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect renders the statements that differ between servers.
type Dialect interface {
	Name() string
	Driver() string
	DefaultPort() string
	DefaultAdmin() string
	// ConnString builds a driver DSN; an empty database connects to the
	// server's maintenance database.
	ConnString(user, password, host, port, database string) string
	DatabaseExists() string
	CreateDatabase(name string) []string
	CreateUser(user, password, client, database string) []string
	DropDatabase(name string) string
	DropUser(user, client string) string
	Placeholder(n int) string
	BookkeepingDDL(table string) string
}

func dialectFor(scheme string) (Dialect, error) {
	switch scheme {
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, scheme)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string         { return "mysql" }
func (mysqlDialect) Driver() string       { return "mysql" }
func (mysqlDialect) DefaultPort() string  { return "3306" }
func (mysqlDialect) DefaultAdmin() string { return "root" }

func (mysqlDialect) ConnString(user, password, host, port, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = database
	return cfg.FormatDSN()
}

func (mysqlDialect) DatabaseExists() string {
	return "SHOW DATABASES WHERE `Database` = ?"
}

func (d mysqlDialect) CreateDatabase(name string) []string {
	return []string{"CREATE DATABASE " + d.ident(name)}
}

func (d mysqlDialect) CreateUser(user, password, client, database string) []string {
	account := d.literal(user) + "@" + d.literal(client)
	return []string{
		"CREATE USER IF NOT EXISTS " + account + " IDENTIFIED BY " + d.literal(password),
		"GRANT ALL ON " + d.ident(database) + ".* TO " + account,
	}
}

func (d mysqlDialect) DropDatabase(name string) string {
	return "DROP DATABASE IF EXISTS " + d.ident(name)
}

func (d mysqlDialect) DropUser(user, client string) string {
	return "DROP USER IF EXISTS " + d.literal(user) + "@" + d.literal(client)
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) BookkeepingDDL(table string) string {
	return fmt.Sprintf(`create table if not exists %s (
		name varchar(255) primary key,
		applied_at datetime not null default current_timestamp
	)`, table)
}

func (mysqlDialect) ident(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func (mysqlDialect) literal(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type postgresDialect struct{}

func (postgresDialect) Name() string         { return "postgres" }
func (postgresDialect) Driver() string       { return "pgx" }
func (postgresDialect) DefaultPort() string  { return "5432" }
func (postgresDialect) DefaultAdmin() string { return "postgres" }

func (postgresDialect) ConnString(user, password, host, port, database string) string {
	if database == "" {
		database = "postgres"
	}
	return DSN{Scheme: "postgres", User: user, Password: password, Host: host, Port: port, Database: database}.String()
}

func (postgresDialect) DatabaseExists() string {
	return "SELECT datname FROM pg_database WHERE datname = $1"
}

func (postgresDialect) CreateDatabase(name string) []string {
	return []string{"CREATE DATABASE " + pgx.Identifier{name}.Sanitize()}
}

func (d postgresDialect) CreateUser(user, password, _ string, database string) []string {
	role := pgx.Identifier{user}.Sanitize()
	return []string{
		"DO $$ BEGIN IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = " + d.literal(user) + ") THEN CREATE ROLE " + role + " LOGIN; END IF; END $$",
		"ALTER ROLE " + role + " WITH LOGIN PASSWORD " + d.literal(password),
		"ALTER DATABASE " + pgx.Identifier{database}.Sanitize() + " OWNER TO " + role,
	}
}

func (postgresDialect) DropDatabase(name string) string {
	return "DROP DATABASE IF EXISTS " + pgx.Identifier{name}.Sanitize()
}

func (postgresDialect) DropUser(user, _ string) string {
	return "DROP ROLE IF EXISTS " + pgx.Identifier{user}.Sanitize()
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) BookkeepingDDL(table string) string {
	return fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, table)
}

func (postgresDialect) literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
