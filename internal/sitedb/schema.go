package sitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const defaultSchemaTable = "autoconfig_schema"

// Schema applies SQL files to a site database once each, recording them in
// a bookkeeping table.
type Schema struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSchema constructs a Schema. An empty table uses the default name.
func NewSchema(db *sql.DB, d Dialect, table string) *Schema {
	if table == "" {
		table = defaultSchemaTable
	}
	return &Schema{db: db, dialect: d, table: table}
}

// Apply runs every pending .sql file under path (a file or a directory),
// in name order. Each file runs in its own transaction.
func (s *Schema) Apply(ctx context.Context, path string) ([]string, error) {
	if _, err := s.db.ExecContext(ctx, s.dialect.BookkeepingDDL(s.table)); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.table, err)
	}
	executed, err := s.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(path)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, f := range files {
		if executed[f.Base] {
			continue
		}
		if err := s.exec(ctx, f.Path); err != nil {
			return applied, fmt.Errorf("apply schema %s: %w", f.Base, err)
		}
		if err := s.insertRecord(ctx, f.Base); err != nil {
			return applied, err
		}
		applied = append(applied, f.Base)
	}
	return applied, nil
}

// Applied returns the recorded file names in application order.
func (s *Schema) Applied(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (s *Schema) exec(ctx context.Context, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	statements := splitStatements(string(sqlBytes))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Schema) insertRecord(ctx context.Context, name string) error {
	q := fmt.Sprintf(`insert into %s(name, applied_at) values (%s, %s)`,
		s.table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	_, err := s.db.ExecContext(ctx, q, name, time.Now().UTC())
	return err
}

func (s *Schema) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(path string) ([]sqlFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []sqlFile{{Base: filepath.Base(path), Path: path}}, nil
	}
	var files []sqlFile
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
			files = append(files, sqlFile{Base: d.Name(), Path: p})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Base < files[j].Base
	})
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings
// and skips "--" line comments.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString, inComment bool
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
		case r == '-' && !inString && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case r == '\'':
			current.WriteRune(r)
			inString = !inString
		case r == ';' && !inString:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
