package sitedb

import "errors"

var (
	ErrInvalidDSN       = errors.New("sitedb: invalid database url")
	ErrUnsupported      = errors.New("sitedb: unsupported database scheme")
	ErrNoDatabaseConfig = errors.New("sitedb: no database configuration found")
	ErrDatabaseExists   = errors.New("sitedb: database exists and neither reuse nor drop was requested")
)
