package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override
// definition keys, e.g. AGENTLOOP_MAX_ITERATIONS or AGENTLOOP_WORK_MODEL.
const EnvPrefix = "AGENTLOOP_"

// sections are the nested blocks reachable from the environment. The first
// underscore after one of these names separates the section from the key.
var sections = map[string]bool{
	"work":       true,
	"generate":   true,
	"supervisor": true,
	"push":       true,
}

// topLevel are top-level keys that start with a section name.
var topLevel = map[string]bool{
	"work_dir":   true,
	"push_every": true,
}

// LoadFile reads the definition at path, applies environment overrides and
// defaults, and validates it.
func LoadFile(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent definition: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return load(content, abs)
}

// Parse decodes a definition from YAML bytes. Relative paths in it resolve
// against the current directory.
func Parse(content []byte) (*Definition, error) {
	return load(content, "")
}

func load(content []byte, path string) (*Definition, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidDefinition, displayPath(path), err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	def := &Definition{path: path}
	if err := k.Unmarshal("", def); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrInvalidDefinition, displayPath(path), err)
	}
	def.applyDefaults()

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// envKey maps AGENTLOOP_WORK_MODEL to work.model and AGENTLOOP_WORK_DIR to
// work_dir.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevel[key] {
		return key
	}
	section, field, ok := strings.Cut(key, "_")
	if ok && sections[section] {
		return section + "." + field
	}
	return key
}

func displayPath(path string) string {
	if path == "" {
		return "definition"
	}
	return path
}
