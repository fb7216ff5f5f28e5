package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "attacher/internal/platform/errors"
)

// EnvHome names the environment variable that overrides the home directory.
const EnvHome = "ATTACHER_HOME"

type Config struct {
	HomePath     string
	ConfigPath   string
	ManifestPath string
	JournalPath  string
	LogLevel     string `validate:"oneof=trace debug info warn error off"`
	LogFile      string
	Journal      bool
	HotSpot      HotSpot
}

type HotSpot struct {
	AttachTimeout time.Duration `validate:"gte=0s"`
	TmpDir        string
}

var validate = validator.New()

type fileConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Journal  bool   `yaml:"journal"`
	HotSpot  struct {
		AttachTimeout time.Duration `yaml:"attach_timeout"`
		TmpDir        string        `yaml:"tmp_dir"`
	} `yaml:"hotspot"`
}

// Load resolves the home directory from the environment and reads its config.
func Load() (Config, error) {
	home, err := resolveHome()
	if err != nil {
		return Config{}, err
	}
	return New(home)
}

// LoadOrDefault is Load for callers whose result must not depend on
// configuration. On error it still returns a usable Config: the defaults of
// the resolved home, or Builtin when no home can be resolved.
func LoadOrDefault() (Config, error) {
	home, err := resolveHome()
	if err != nil {
		return Builtin(), err
	}
	cfg, err := New(home)
	if err != nil {
		return Defaults(home), err
	}
	return cfg, nil
}

// Defaults is the configuration of home before config.yaml is applied.
func Defaults(homePath string) Config {
	return Config{
		HomePath:     homePath,
		ConfigPath:   filepath.Join(homePath, "config.yaml"),
		ManifestPath: filepath.Join(homePath, "plugins", "plugins.json"),
		JournalPath:  filepath.Join(homePath, "attacher.db"),
		LogLevel:     "info",
	}
}

// Builtin has no home: no plugin manifests, no journal, no log file.
func Builtin() Config {
	return Config{LogLevel: "info"}
}

func resolveHome() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrNoHome, err)
	}
	return filepath.Join(dir, "attacher"), nil
}

func New(homePath string) (Config, error) {
	if homePath == "" {
		return Config{}, fmt.Errorf("%w: home path is required", apperrors.ErrNoHome)
	}
	cfg := Defaults(homePath)

	fc, err := readFile(cfg.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	cfg.LogFile = resolve(homePath, fc.LogFile)
	cfg.Journal = fc.Journal
	cfg.HotSpot = HotSpot{AttachTimeout: fc.HotSpot.AttachTimeout, TmpDir: fc.HotSpot.TmpDir}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s fails %q", apperrors.ErrInvalidConfig, fieldErrs[0].Namespace(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidConfig, err)
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	fc := fileConfig{}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return fc, fmt.Errorf("read config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fc, fmt.Errorf("%w: %s: %w", apperrors.ErrInvalidConfig, path, err)
	}
	return fc, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
