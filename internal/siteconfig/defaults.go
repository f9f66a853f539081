package siteconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"autoconfig.org/internal/sitedb"
)

// Defaults maps a config file name to its content: section name to a map
// of keys, or a top-level key to a scalar.
type Defaults map[string]map[string]any

// Merge copies every file, section and key of src over d.
func (d Defaults) Merge(src Defaults) {
	for file, entries := range src {
		dst := d[file]
		if dst == nil {
			dst = map[string]any{}
			d[file] = dst
		}
		for name, v := range entries {
			sec, ok := v.(map[string]any)
			cur, curOK := dst[name].(map[string]any)
			if !ok || !curOK {
				dst[name] = v
				continue
			}
			for k, kv := range sec {
				cur[k] = kv
			}
		}
	}
}

// DefaultsPath is the stored defaults file. A .yaml or .yml file is used
// when it exists and no .json file does.
func (g *Generator) DefaultsPath() string {
	base := filepath.Join(g.opts.SettingsDir, g.opts.DeployID)
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return base + ".json"
}

// FetchDefaults reads the stored defaults and merges the overrides over
// them. A missing file yields empty defaults.
func (g *Generator) FetchDefaults() (Defaults, error) {
	path := g.DefaultsPath()
	g.logger.Debug("reading defaults", zap.String("path", path))
	defaults := Defaults{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		g.logger.Info("no stored defaults", zap.String("path", path))
	case err != nil:
		return nil, err
	default:
		// JSON is read by the YAML decoder as well.
		if err := yaml.Unmarshal(data, &defaults); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if defaults == nil {
			defaults = Defaults{}
		}
	}
	if g.opts.Overrides != nil {
		defaults.Merge(g.opts.Overrides)
	}
	return defaults, nil
}

// UpdateDefaults stores defaults, in JSON unless the existing file is YAML.
func (g *Generator) UpdateDefaults(defaults Defaults) error {
	if err := os.MkdirAll(g.opts.SettingsDir, 0o700); err != nil {
		return err
	}
	path := g.DefaultsPath()
	var (
		data []byte
		err  error
	)
	if filepath.Ext(path) == ".json" {
		data, err = json.MarshalIndent(defaults, "", "  ")
	} else {
		data, err = yaml.Marshal(defaults)
	}
	if err != nil {
		return err
	}
	g.logger.Info("updating defaults", zap.String("path", path))
	return os.WriteFile(path, data, 0o600)
}

// fillMainConfig generates the config.ini values a working instance needs
// and that the defaults do not carry yet.
func (g *Generator) fillMainConfig(defaults Defaults) error {
	file := defaults[MainConfig]
	if file == nil {
		file = map[string]any{}
		defaults[MainConfig] = file
	}
	if sectionValue(file, "Database", "database") == "" {
		pw, err := sitedb.GeneratePassword()
		if err != nil {
			return err
		}
		dsn := sitedb.DSN{
			Scheme:   "mysql",
			User:     g.opts.DBName,
			Password: pw[:16],
			Host:     g.opts.DBServer,
			Database: g.opts.DBName,
		}
		setSectionValue(file, "Database", "database", dsn.String())
	}
	if sectionValue(file, "Authentication", "ils_encryption_key") == "" {
		key, err := sitedb.GeneratePassword()
		if err != nil {
			return err
		}
		setSectionValue(file, "Authentication", "ils_encryption_key", key)
	}
	if g.opts.SolrURL != "" && sectionValue(file, "Index", "url") == "" {
		setSectionValue(file, "Index", "url", g.opts.SolrURL)
	}
	if g.opts.SiteURL != "" && sectionValue(file, "Site", "url") == "" {
		setSectionValue(file, "Site", "url", g.opts.SiteURL)
	}
	return nil
}

func sectionValue(file map[string]any, section, key string) string {
	sec, ok := file[section].(map[string]any)
	if !ok || sec[key] == nil {
		return ""
	}
	return fmt.Sprint(sec[key])
}

func setSectionValue(file map[string]any, section, key, value string) {
	sec, ok := file[section].(map[string]any)
	if !ok {
		sec = map[string]any{}
		file[section] = sec
	}
	sec[key] = value
}
