package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed default.yaml
var defaultYAML []byte

const (
	envPrefix         = "CAPPAIR"
	projectConfigName = ".cappair.yaml"
)

var ErrUnknownKey = errors.New("unknown config key")

// aliases are short environment names accepted in addition to
// CAPPAIR_<SECTION>_<KEY>. The long form wins when both are set.
var aliases = map[string]string{
	"defaults.images_dir": "CAPPAIR_IMAGES_DIR",
	"defaults.output":     "CAPPAIR_OUTPUT",
	"defaults.backend":    "CAPPAIR_BACKEND",
	"defaults.model":      "CAPPAIR_MODEL",
}

// Paths records the config files merged over the built-in defaults.
type Paths struct {
	Global  string
	Project string
}

type Defaults struct {
	ImagesDir       string `mapstructure:"images_dir"`
	Output          string `mapstructure:"output"`
	Backend         string `mapstructure:"backend"`
	Model           string `mapstructure:"model"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
	PromptFile      string `mapstructure:"prompt_file"`
	StripCodeFence  bool   `mapstructure:"strip_code_fence"`
}

type Endpoint struct {
	BaseURL string `mapstructure:"base_url"`
}

type Logging struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Settings is the merged configuration decoded into typed fields.
type Settings struct {
	Defaults Defaults `mapstructure:"defaults"`
	OpenAI   Endpoint `mapstructure:"openai"`
	Ark      Endpoint `mapstructure:"ark"`
	Ollama   Endpoint `mapstructure:"ollama"`
	Logging  Logging  `mapstructure:"logging"`
	Metrics  struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`
	Notify struct {
		Webhook string `mapstructure:"webhook"`
	} `mapstructure:"notify"`
	History struct {
		Keep int `mapstructure:"keep"`
	} `mapstructure:"history"`
}

// BaseURL returns the configured endpoint for a backend, or "" for the
// SDK default.
func (s Settings) BaseURL(backendName string) string {
	switch strings.ToLower(backendName) {
	case "openai":
		return strings.TrimSpace(s.OpenAI.BaseURL)
	case "ark":
		return strings.TrimSpace(s.Ark.BaseURL)
	case "ollama":
		return strings.TrimSpace(s.Ollama.BaseURL)
	default:
		return ""
	}
}

var (
	loaded      *viper.Viper
	loadedPaths Paths
)

// LoadConfig layers the global file and then the project's .cappair.yaml
// over the built-in defaults. Missing files are skipped.
func LoadConfig(projectDir string) (Paths, error) {
	v, err := newViper()
	if err != nil {
		return Paths{}, err
	}

	paths := Paths{Global: globalPath(), Project: projectPath(projectDir)}
	for _, path := range []string{paths.Global, paths.Project} {
		if err := mergeFile(v, path); err != nil {
			return paths, err
		}
	}

	loaded = v
	loadedPaths = paths
	return paths, nil
}

// Current decodes the loaded configuration. Before LoadConfig it
// reflects the built-in defaults and the environment only.
func Current() (Settings, error) {
	v := loaded
	if v == nil {
		var err error
		if v, err = newViper(); err != nil {
			return Settings{}, err
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	return settings, nil
}

// CurrentPaths returns the files merged by the last LoadConfig.
func CurrentPaths() Paths {
	return loadedPaths
}

// GetConfig returns a single value, with environment overrides applied.
func GetConfig(key string) (string, bool) {
	key = normalizeKey(key)
	if key == "" || loaded == nil || !loaded.IsSet(key) {
		return "", false
	}
	return fmt.Sprint(loaded.Get(key)), true
}

// ListConfig returns every known key with its effective value.
func ListConfig() (map[string]string, error) {
	if loaded == nil {
		return nil, errors.New("config not loaded")
	}

	items := map[string]string{}
	for _, key := range loaded.AllKeys() {
		items[key] = fmt.Sprint(loaded.Get(key))
	}
	return items, nil
}

// SetConfig stores key in the global config file. Only keys present in
// the built-in defaults are accepted, and the value must parse as the
// default's type.
func SetConfig(key, value string) error {
	key = normalizeKey(key)
	if key == "" {
		return errors.New("config key is required")
	}

	builtin, err := builtins()
	if err != nil {
		return err
	}
	if !builtin.IsSet(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	typed, err := coerce(builtin.Get(key), value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	path := globalPath()
	if path == "" {
		return errors.New("global config path is not available")
	}

	file := viper.New()
	file.SetConfigType("yaml")
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read global config: %w", err)
	}
	file.Set(key, typed)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := file.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write global config: %w", err)
	}

	if loaded != nil {
		loaded.Set(key, typed)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from the .env file in dir into the
// process environment. Variables already set win; a missing file is
// not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if name := os.Getenv("CAPPAIR_ENV_FILE"); name != "" {
		path = name
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func builtins() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read built-in config: %w", err)
	}
	return v, nil
}

func newViper() (*viper.Viper, error) {
	v, err := builtins()
	if err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range aliases {
		if err := v.BindEnv(key, envName(key), alias); err != nil {
			return nil, fmt.Errorf("bind %s: %w", alias, err)
		}
	}
	return v, nil
}

func mergeFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config %s is a directory", path)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// globalPath is $CAPPAIR_CONFIG, else ~/.config/cappair/config.yaml.
func globalPath() string {
	if path := os.Getenv("CAPPAIR_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "cappair", "config.yaml")
}

func projectPath(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, projectConfigName)
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// coerce parses value as the type of the built-in default.
func coerce(builtin interface{}, value string) (interface{}, error) {
	value = strings.TrimSpace(value)
	switch builtin.(type) {
	case int:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", value)
		}
		return parsed, nil
	case bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", value)
		}
		return parsed, nil
	default:
		return value, nil
	}
}
