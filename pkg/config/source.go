package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Source is one configuration layer. Sources load in priority order
// (lowest first), later sources overriding earlier values.
type Source interface {
	// Name is a human-readable label for error messages.
	Name() string

	// Priority orders loading; lower loads first.
	Priority() int

	// Load merges this source's values into the koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultSource provides the hardcoded defaults. Priority 10.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	return nil
}

// FileSource loads a YAML config file. A missing or empty path is skipped
// silently. Priority 20.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}
	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat config file %s: %w", s.Path, err)
	}
	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", s.Path, err)
	}
	return nil
}

// EnvSource loads BOOKFORGE_* environment variables; underscores map to
// dots, so BOOKFORGE_SERVER_PORT becomes server.port. Priority 30.
type EnvSource struct {
	Prefix string
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "BOOKFORGE_"
	}
	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(key, prefix)), "_", ".")
	}), nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return nil
}

// FlagSource loads command-line flags. Priority 40, overrides everything.
type FlagSource struct {
	Flags *pflag.FlagSet
	Debug bool
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags != nil {
		if err := k.Load(posflag.Provider(s.Flags, ".", k), nil); err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
	}
	if s.Debug {
		_ = k.Set("log.level", "debug")
	}
	return nil
}

// DefaultSources returns the standard layers: defaults, file, env, flags.
func DefaultSources(configPath string, flags *pflag.FlagSet, debug bool) []Source {
	return []Source{
		&DefaultSource{},
		&FileSource{Path: configPath},
		&EnvSource{Prefix: "BOOKFORGE_"},
		&FlagSource{Flags: flags, Debug: debug},
	}
}
