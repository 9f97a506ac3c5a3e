// Package project loads the wasmgen.toml project manifest.
package project

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultOutput is the output directory used when [build].output is unset.
const DefaultOutput = "target"

// PageSize is the wasm page size; stack sizes are whole pages.
const PageSize = 64 * 1024

// Manifest is a loaded wasmgen.toml.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Config mirrors the manifest tables.
type Config struct {
	Package  PackageConfig  `toml:"package"`
	Build    BuildConfig    `toml:"build"`
	Memory   MemoryConfig   `toml:"memory"`
	Builtins BuiltinsConfig `toml:"builtins"`
}

type PackageConfig struct {
	Name string `toml:"name"`
}

// BuildConfig lists inputs as globs relative to the project root.
type BuildConfig struct {
	Inputs []string `toml:"inputs"`
	Output string   `toml:"output"`
}

// MemoryConfig sizes the stack; zero keeps the backend default.
type MemoryConfig struct {
	StackSize uint32 `toml:"stack_size"`
}

type BuiltinsConfig struct {
	Module string `toml:"module"`
}

// Load finds and parses the manifest above startDir. ok is false when there is none.
func Load(startDir string) (*Manifest, bool, error) {
	path, ok, err := FindManifest(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	m, err := LoadFile(path)
	if err != nil {
		return nil, true, err
	}
	return m, true, nil
}

// LoadFile parses and validates the manifest at path.
func LoadFile(path string) (*Manifest, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if !meta.IsDefined("package") {
		return nil, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return nil, fmt.Errorf("%s: missing [package].name", path)
	}
	if meta.IsDefined("memory", "stack_size") {
		if cfg.Memory.StackSize == 0 || cfg.Memory.StackSize%PageSize != 0 {
			return nil, fmt.Errorf("%s: [memory].stack_size must be a positive multiple of %d", path, PageSize)
		}
	}
	if meta.IsDefined("builtins", "module") && strings.TrimSpace(cfg.Builtins.Module) == "" {
		return nil, fmt.Errorf("%s: [builtins].module is empty", path)
	}
	if strings.TrimSpace(cfg.Build.Output) == "" {
		cfg.Build.Output = DefaultOutput
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	return &Manifest{Path: abs, Root: filepath.Dir(abs), Config: cfg}, nil
}

// Inputs expands [build].inputs into sorted, deduplicated absolute paths.
func (m *Manifest) Inputs() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range m.Config.Build.Inputs {
		matches, err := filepath.Glob(filepath.Join(m.Root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("%s: bad [build].inputs pattern %q: %w", m.Path, pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%s: [build].inputs pattern %q matches no files", m.Path, pattern)
		}
		for _, match := range matches {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			out = append(out, match)
		}
	}
	sort.Strings(out)
	return out, nil
}

// OutputPath maps an input file to <root>/<output>/<stem>.wasm.
func (m *Manifest) OutputPath(input string) string {
	dir := m.Config.Build.Output
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(m.Root, filepath.FromSlash(dir))
	}
	return filepath.Join(dir, Stem(input)+".wasm")
}

// Stem strips the directory and extension of path.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
