package bridge

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/vm"
)

// maxMemoryPages is the 32-bit linear memory limit in 64KB pages.
const maxMemoryPages = 65536

// Config describes one bridge instance.
type Config struct {
	// CoreAssembly is the expected name of the runtime's core library.
	// Empty accepts whatever the runtime provides.
	CoreAssembly string `yaml:"core_assembly"`

	// Assemblies are loaded in order after the runtime starts. An entry
	// with a path separator or a known extension is a file path, anything
	// else an assembly display name resolved through the search roots.
	Assemblies []string `yaml:"assemblies"`

	SearchRoots []string `yaml:"search_roots"`

	// Archives are zip files searched before SearchRoots.
	Archives []string `yaml:"archives"`

	// PreloadTypes are resolved and have their thunks built during the
	// compilation phase. Names are namespace qualified.
	PreloadTypes []string `yaml:"preload_types"`

	// Production makes unhandled managed exceptions non-fatal.
	Production bool `yaml:"production"`

	LogLevel string `yaml:"log_level"`

	CollectThreshold int    `yaml:"collect_threshold"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// LoadConfig reads a YAML configuration file. ${VAR} and ${VAR:-default}
// references are expanded from the environment before parsing; a
// reference to an unset variable without a default is an error.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseBootstrap, errors.KindInvalidInput, err, "open config")
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig reads a YAML configuration from r. See LoadConfig.
func ParseConfig(r io.Reader) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseBootstrap, errors.KindInvalidInput, err, "read config")
	}

	var missing []string
	expanded := os.Expand(string(raw), func(key string) string {
		if name, def, ok := strings.Cut(key, ":-"); ok {
			if v, set := os.LookupEnv(name); set {
				return v
			}
			return def
		}
		v, set := os.LookupEnv(key)
		if !set {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return Config{}, errors.InvalidInput(errors.PhaseBootstrap,
			fmt.Sprintf("config references unset environment variables %v", missing))
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, errors.Wrap(errors.PhaseBootstrap, errors.KindInvalidInput, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs error
	invalid := func(format string, args ...any) {
		errs = multierr.Append(errs, errors.InvalidInput(errors.PhaseBootstrap, fmt.Sprintf(format, args...)))
	}

	for field, list := range map[string][]string{
		"assemblies":    c.Assemblies,
		"search_roots":  c.SearchRoots,
		"archives":      c.Archives,
		"preload_types": c.PreloadTypes,
	} {
		for i, v := range list {
			if strings.TrimSpace(v) == "" {
				invalid("%s[%d] is empty", field, i)
			}
		}
	}
	if c.LogLevel != "" {
		if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
			invalid("log_level %q: %v", c.LogLevel, err)
		}
	}
	if c.CollectThreshold < 0 {
		invalid("collect_threshold must not be negative, got %d", c.CollectThreshold)
	}
	if c.MemoryLimitPages > maxMemoryPages {
		invalid("memory_limit_pages must be at most %d, got %d", maxMemoryPages, c.MemoryLimitPages)
	}
	return errs
}

// VMOptions converts the runtime settings for the reference runtime.
func (c Config) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithCollectThreshold(c.CollectThreshold),
		vm.WithMemoryLimitPages(c.MemoryLimitPages),
	}
}

// BuildLogger creates the logger described by the config: a production
// JSON logger when Production is set, a development console logger
// otherwise.
func (c Config) BuildLogger() (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if c.Production {
		zc = zap.NewProductionConfig()
	}
	if c.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(c.LogLevel)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseBootstrap, errors.KindInvalidInput, err, "log level")
		}
		zc.Level = lvl
	}
	return zc.Build()
}
