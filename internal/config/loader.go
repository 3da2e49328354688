package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "DISCOVERY"

// newViper builds a Viper instance with YAML file type, the DISCOVERY_ env
// prefix and a "." → "_" key replacer, so "session.sqlite_path" resolves to
// DISCOVERY_SESSION_SQLITE_PATH. Every key of Config is bound explicitly;
// AutomaticEnv alone does not make Unmarshal see keys absent from the file.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")
	for key, val := range defaultBools {
		v.SetDefault(key, val)
	}
	return v
}

// bindEnvs walks t's mapstructure tags and binds each leaf key.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if f.Type.Kind() == reflect.Struct && f.Type.String() != "time.Time" {
			next := prefix
			if opts != "squash" {
				if name == "" {
					name = strings.ToLower(f.Name)
				}
				next = prefix + name + "."
			}
			bindEnvs(v, f.Type, next)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		_ = v.BindEnv(prefix + name)
	}
}

// Load reads the YAML file at configPath, merges DISCOVERY_* environment
// overrides, applies defaults and validates the result. An empty path is the
// same as LoadFromEnv.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from DISCOVERY_* environment variables and
// defaults, with no config file.
//
//	DISCOVERY_<SECTION>_<FIELD>   e.g.  DISCOVERY_SERVICES_BASE_URL
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch re-reads configPath whenever it changes on disk and passes the new
// Config to onChange. Invalid files are reported to onError, when set, and
// never reach onChange. Callers apply only the settings that are safe to
// change at runtime, such as the log level. Watch does not block.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on error, for use in main.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
