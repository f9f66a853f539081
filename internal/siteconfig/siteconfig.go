// Package siteconfig generates the configuration of a site instance: INI
// files that inherit from the site's parent configs, language files that
// inherit from the parent languages, and the per-deployment defaults that
// are appended to them.
package siteconfig

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// MainConfig is the config file that carries the database url.
const MainConfig = "config.ini"

var ErrInvalidOptions = errors.New("siteconfig: invalid options")

// Options locate a site and its instance.
type Options struct {
	// BaseDir holds one directory per site.
	BaseDir  string
	Site     string
	Instance string
	// SettingsDir holds the defaults file <DeployID>.json.
	SettingsDir string
	DeployID    string
	// DBName and DBServer seed a generated database url.
	DBName   string
	DBServer string
	SolrURL  string
	SiteURL  string
	// Overrides are merged over the stored defaults.
	Overrides Defaults
}

// Generator writes instance configs for one site.
type Generator struct {
	opts   Options
	logger *zap.Logger
}

// NewGenerator validates opts and constructs a Generator.
func NewGenerator(opts Options, logger *zap.Logger) (*Generator, error) {
	if opts.BaseDir == "" || opts.Site == "" || opts.Instance == "" {
		return nil, fmt.Errorf("%w: basedir, site and instance are required", ErrInvalidOptions)
	}
	if opts.DeployID == "" {
		opts.DeployID = opts.Site
	}
	if opts.DBName == "" {
		opts.DBName = opts.DeployID
	}
	if opts.DBServer == "" {
		opts.DBServer = "localhost"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{opts: opts, logger: logger}, nil
}

// DeployNames derives the deploy id and database name of a site. Long
// names, and every name when hashID is set, are replaced by a digest of
// basedir so they fit MySQL's user name limit.
func DeployNames(basedir, site string, hashID bool) (deployID, dbName string) {
	sum := sha1.Sum([]byte(basedir))
	h := hex.EncodeToString(sum[:])
	short := h[0:4] + h[10:14] + h[26:30] + h[36:40]
	switch {
	case hashID:
		return short, short
	case len("vufind_"+site) > 16:
		return site, short
	default:
		return site, "vufind_" + site
	}
}

// InstanceConfigDir is where the generated INI files go.
func (g *Generator) InstanceConfigDir() string {
	return filepath.Join(g.opts.BaseDir, g.opts.Site, g.opts.Instance, "config", "vufind")
}

// InstanceLanguagesDir is where the generated language files go.
func (g *Generator) InstanceLanguagesDir() string {
	return filepath.Join(g.opts.BaseDir, g.opts.Site, g.opts.Instance, "languages")
}

func (g *Generator) parentConfigDir() string {
	return filepath.Join(g.opts.BaseDir, g.opts.Site, "config", "vufind")
}

func (g *Generator) parentLanguagesDir() string {
	return filepath.Join(g.opts.BaseDir, g.opts.Site, "languages")
}

// FindParentConfigs lists every file below the site's config/vufind.
func (g *Generator) FindParentConfigs() ([]string, error) {
	dir := g.parentConfigDir()
	g.logger.Debug("finding parent configs", zap.String("dir", dir))
	return listFiles(dir)
}

// FindParentLanguages lists every file below the site's languages.
func (g *Generator) FindParentLanguages() ([]string, error) {
	dir := g.parentLanguagesDir()
	g.logger.Debug("finding parent languages", zap.String("dir", dir))
	return listFiles(dir)
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// CreateConfigs recreates the instance config and language directories.
// INI configs get an inheritance header followed by their defaults, other
// configs are copied, languages get an inheritance header. Values generated
// for config.ini are stored back into defaults. It returns the written
// files.
func (g *Generator) CreateConfigs(defaults Defaults, configs, languages []string) ([]string, error) {
	configDir, langDir := g.InstanceConfigDir(), g.InstanceLanguagesDir()
	for _, dir := range []string{configDir, langDir} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	var written []string
	for _, src := range configs {
		name := filepath.Base(src)
		dest := filepath.Join(configDir, name)
		if !strings.EqualFold(filepath.Ext(name), ".ini") {
			if err := copyFile(src, dest); err != nil {
				return written, err
			}
			g.logger.Debug("copied config", zap.String("from", src), zap.String("to", dest))
			written = append(written, dest)
			continue
		}
		parent, err := filepath.Rel(configDir, src)
		if err != nil {
			return written, err
		}
		if err := writeHeader(dest, configHeader, g.opts.Instance, parent); err != nil {
			return written, err
		}
		if name == MainConfig {
			if err := g.fillMainConfig(defaults); err != nil {
				return written, err
			}
		}
		if err := appendINI(dest, defaults[name]); err != nil {
			return written, fmt.Errorf("extend %s: %w", dest, err)
		}
		written = append(written, dest)
	}

	base := g.parentLanguagesDir()
	for _, src := range languages {
		sub, err := filepath.Rel(base, filepath.Dir(src))
		if err != nil || strings.HasPrefix(sub, "..") {
			sub = ""
		}
		dest := filepath.Join(langDir, sub, filepath.Base(src))
		parent, err := filepath.Rel(filepath.Dir(dest), src)
		if err != nil {
			return written, err
		}
		if err := writeHeader(dest, languageHeader, g.opts.Instance, parent); err != nil {
			return written, err
		}
		written = append(written, dest)
	}
	g.logger.Info("instance configs created",
		zap.String("instance", g.opts.Instance),
		zap.Int("files", len(written)))
	return written, nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
