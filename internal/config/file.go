package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadFile merges a YAML file into v. Keys are flag names, for example
//
//	okapi-url: http://okapi:9130
//	try-count: 5
//	user-permissions: [perms.all]
func LoadFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	values := map[string]interface{}{}
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}
