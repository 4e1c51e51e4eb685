package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvLookup resolves an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	overrides  map[string]any
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigPath points Load at a YAML config file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnvLookup replaces the environment source used for ${VAR} expansion
// and the legacy fallbacks.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithOverrides applies values above every other source (CLI flags).
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) { o.overrides = values }
}

// Load resolves settings from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load(opts ...Option) (Settings, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaults := Defaults()
	for _, key := range settingKeys() {
		v.SetDefault(key, fieldByKey(defaults, key))
		if err := v.BindEnv(key); err != nil {
			return Settings{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	fileValues, err := loadFileValues(options)
	if err != nil {
		return Settings{}, err
	}
	if len(fileValues) > 0 {
		if err := v.MergeConfigMap(fileValues); err != nil {
			return Settings{}, fmt.Errorf("merge config file: %w", err)
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	applyFallbacks(&settings, options.envLookup)
	settings.PlannerMode = strings.ToLower(strings.TrimSpace(settings.PlannerMode))
	settings.ExecutorMode = strings.ToLower(strings.TrimSpace(settings.ExecutorMode))

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func applyFallbacks(s *Settings, lookup EnvLookup) {
	if strings.TrimSpace(s.OpenAIAPIKey) == "" {
		if value, ok := lookup("OPENAI_API_KEY"); ok {
			s.OpenAIAPIKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(s.DatabaseURL) == "" {
		if value, ok := lookup("ORCHESTRATOR_DATABASE_URL"); ok {
			s.DatabaseURL = strings.TrimSpace(value)
		}
	}
}

func loadFileValues(options loadOptions) (map[string]any, error) {
	path := strings.TrimSpace(options.configPath)
	if path == "" {
		return nil, nil
	}
	data, err := options.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	expanded := os.Expand(string(data), func(key string) string {
		value, _ := options.envLookup(key)
		return value
	})

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &parsed); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return parsed, nil
}

// settingKeys lists the mapstructure keys of Settings.
func settingKeys() []string {
	t := reflect.TypeOf(Settings{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func fieldByKey(s Settings, key string) any {
	v := reflect.ValueOf(s)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("mapstructure") == key {
			return v.Field(i).Interface()
		}
	}
	return nil
}
