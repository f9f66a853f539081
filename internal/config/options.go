package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"autoconfig.org/internal/obs"
)

// EnvPrefix prefixes the environment name of every option.
const EnvPrefix = "AUTOCONFIG"

// Opt is a single command-line option.
type Opt struct {
	DestP   interface{} // pointer to the destination
	Flag    string
	Default interface{}
	Desc    string
	// Envs are extra environment names read besides AUTOCONFIG_<FLAG>.
	Envs []string
	// Persistent makes the flag available to subcommands.
	Persistent bool
}

// NewViper returns a viper instance reading AUTOCONFIG_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// BindOptions adds opts as flags of cmd. Destinations receive their
// effective values in Resolve, once flags are parsed.
func BindOptions(cmd *cobra.Command, opts []Opt) {
	for _, o := range opts {
		flags := cmd.Flags()
		if o.Persistent {
			flags = cmd.PersistentFlags()
		}
		switch destP := o.DestP.(type) {
		case *string:
			var d string
			if o.Default != nil {
				d = o.Default.(string)
			}
			flags.StringVar(destP, o.Flag, d, o.Desc)
		case *int:
			var d int
			if o.Default != nil {
				d = o.Default.(int)
			}
			flags.IntVar(destP, o.Flag, d, o.Desc)
		case *bool:
			var d bool
			if o.Default != nil {
				d = o.Default.(bool)
			}
			flags.BoolVar(destP, o.Flag, d, o.Desc)
		case *float64:
			var d float64
			if o.Default != nil {
				d = o.Default.(float64)
			}
			flags.Float64Var(destP, o.Flag, d, o.Desc)
		case *time.Duration:
			var d time.Duration
			if o.Default != nil {
				d = o.Default.(time.Duration)
			}
			flags.DurationVar(destP, o.Flag, d, o.Desc)
		case *[]string:
			var d []string
			if o.Default != nil {
				d = o.Default.([]string)
			}
			flags.StringSliceVar(destP, o.Flag, d, o.Desc)
		case *zapcore.Level:
			var d zapcore.Level
			if o.Default != nil {
				d = o.Default.(zapcore.Level)
			}
			LevelVar(flags, destP, o.Flag, d, o.Desc)
		default:
			// add a case for the new type
			panic(fmt.Errorf("unknown destination type %T", o.DestP))
		}
	}
}

// Resolve copies the effective value of every option into its destination:
// a set flag wins over the environment, which wins over the config file
// (when configFile is not empty), which wins over the default.
func Resolve(cmd *cobra.Command, opts []Opt, configFile string) error {
	v := NewViper()
	for _, o := range opts {
		if f := cmd.Flags().Lookup(o.Flag); f != nil {
			if err := v.BindPFlag(o.Flag, f); err != nil {
				return err
			}
		}
		if len(o.Envs) > 0 {
			names := append([]string{o.Flag, envName(o.Flag)}, o.Envs...)
			if err := v.BindEnv(names...); err != nil {
				return err
			}
		}
	}
	if configFile != "" {
		if err := LoadFile(v, configFile); err != nil {
			return err
		}
	}
	return resolve(v, opts)
}

func resolve(v *viper.Viper, opts []Opt) error {
	for _, o := range opts {
		switch destP := o.DestP.(type) {
		case *string:
			*destP = v.GetString(o.Flag)
		case *int:
			*destP = v.GetInt(o.Flag)
		case *bool:
			*destP = v.GetBool(o.Flag)
		case *float64:
			*destP = v.GetFloat64(o.Flag)
		case *time.Duration:
			*destP = v.GetDuration(o.Flag)
		case *[]string:
			*destP = stringSlice(v.Get(o.Flag))
		case *zapcore.Level:
			raw := v.GetString(o.Flag)
			if raw == "" {
				continue
			}
			lvl, err := obs.ParseLevel(raw)
			if err != nil {
				return fmt.Errorf("%w: %s: unknown log level %q", ErrInvalidConfig, o.Flag, raw)
			}
			*destP = lvl
		default:
			return fmt.Errorf("unknown destination type %T", o.DestP)
		}
	}
	return nil
}

// stringSlice accepts a list from a flag or file, or a comma separated
// string from the environment.
func stringSlice(raw interface{}) []string {
	switch val := raw.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		s := strings.Trim(strings.TrimSpace(val), "[]")
		if s == "" {
			return nil
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(val)}
	}
}

func envName(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
