package sitedb

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	databaseSection = "Database"
	databaseKey     = "database"
	passwordChars   = "abcdefg0123456789"
	passwordLength  = 40
)

// DSNFromINI returns the database url stored in the [Database] section of
// a site config file. When dbName is set the url is rewritten to use dbName
// as database and user, keeping the stored password or generating one, and
// written back to the file.
func DSNFromINI(path, dbName, host string) (string, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true, PreserveSurroundedQuote: true}, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sec := cfg.Section(databaseSection)
	current := strings.Trim(sec.Key(databaseKey).String(), `"`)

	if dbName == "" {
		if current == "" {
			return "", fmt.Errorf("%w in %s", ErrNoDatabaseConfig, path)
		}
		if _, err := ParseDSN(current); err != nil {
			return "", err
		}
		return current, nil
	}

	var dsn DSN
	if current == "" {
		pw, err := GeneratePassword()
		if err != nil {
			return "", err
		}
		if host == "" {
			host = "localhost"
		}
		dsn = DSN{Scheme: "mysql", Password: pw, Host: host}
	} else {
		if dsn, err = ParseDSN(current); err != nil {
			return "", err
		}
	}
	dsn.User = dbName
	dsn.Database = dbName

	sec.Key(databaseKey).SetValue(dsn.String())
	if err := cfg.SaveTo(path); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return dsn.String(), nil
}

// GeneratePassword returns a random password for a new site user.
func GeneratePassword() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(passwordChars)))
	for i := 0; i < passwordLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b.WriteByte(passwordChars[n.Int64()])
	}
	return b.String(), nil
}
