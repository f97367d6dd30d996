// Package config resolves where the blocklist tooling reads and writes, and
// with which settings.
//
// Values come from Default, then an optional YAML file, then the environment.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/discover"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/filters"
)

const (
	DefaultBlocklist  = "opgecanceld-blocklist.txt"
	DefaultOutput     = "opgecanceld-filters.txt"
	DefaultDatabase   = "data/discover.sqlite"
	DefaultConfigFile = "opgecanceld.yaml"
)

var ErrRootNotFound = errors.New("project root not found")

type Config struct {
	// Root is the directory relative paths are resolved against.
	Root string `yaml:"-"`
	// Env mirrors APP_ENV. Anything but "production" turns on debug logging.
	Env   string `yaml:"env"`
	Debug bool   `yaml:"debug"`

	Blocklist string `yaml:"blocklist"`
	Output    string `yaml:"output"`
	Database  string `yaml:"database"`

	Header   filters.Header  `yaml:"header"`
	Discover discover.Config `yaml:"discover"`
}

func Default() Config {
	return Config{
		Env:       "production",
		Blocklist: DefaultBlocklist,
		Output:    DefaultOutput,
		Database:  DefaultDatabase,
		Header:    filters.DefaultHeader(),
		Discover:  discover.DefaultConfig(),
	}
}

// Load builds a Config. root may be empty, in which case it is searched for
// upward from the working directory. configPath may be empty, in which case
// <root>/opgecanceld.yaml is used if present.
func Load(root, configPath string) (Config, error) {
	cfg := Default()

	root, err := resolveRoot(root)
	if err != nil {
		return Config{}, err
	}
	cfg.Root = root

	required := configPath != ""
	if !required {
		configPath = filepath.Join(root, DefaultConfigFile)
	}
	if err := cfg.readFile(configPath, required); err != nil {
		return Config{}, err
	}

	cfg.applyEnv()
	cfg.Debug = cfg.Debug || cfg.Env != "production"

	cfg.Blocklist = cfg.Resolve(cfg.Blocklist)
	cfg.Output = cfg.Resolve(cfg.Output)
	cfg.Database = cfg.resolveDSN(cfg.Database)

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if env := os.Getenv("APP_ENV"); env != "" {
		c.Env = env
	}
	if path := os.Getenv("CHROME_PATH"); path != "" {
		c.Discover.ChromePath = path
	}
}

func (c *Config) validate() error {
	if c.Blocklist == "" {
		return errors.New("blocklist path is empty")
	}
	if c.Output == "" {
		return errors.New("output path is empty")
	}
	if c.Blocklist == c.Output {
		return fmt.Errorf("blocklist and output are the same file: %s", c.Blocklist)
	}
	if c.Discover.DurationPerVideo < 0 || c.Discover.PageTimeout < 0 {
		return errors.New("discover durations must not be negative")
	}
	return nil
}

// Resolve makes a relative path relative to Root.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Root, path)
}

func (c *Config) resolveDSN(dsn string) string {
	path, params, hasParams := strings.Cut(dsn, "?")
	prefix := ""
	if rest, ok := strings.CutPrefix(path, "file:"); ok {
		prefix, path = "file:", rest
	}
	if path == "" || path == ":memory:" {
		return dsn
	}
	path = prefix + c.Resolve(path)
	if hasParams {
		return path + "?" + params
	}
	return path
}

func resolveRoot(root string) (string, error) {
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("resolving root: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("resolving root: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("root %s is not a directory", abs)
		}
		return abs, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	found, err := FindRoot(wd)
	if errors.Is(err, ErrRootNotFound) {
		return wd, nil
	}
	return found, err
}

// FindRoot walks up from startDir to the first directory that holds the
// default blocklist or config file.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	cur := filepath.Clean(abs)
	for {
		for _, marker := range []string{DefaultBlocklist, DefaultConfigFile} {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur, nil
			}
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", ErrRootNotFound
		}
		cur = parent
	}
}
