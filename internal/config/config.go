// Package config loads the project configuration: which specification
// documents to read and which implementations to trace against them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/jward/ruletrace/internal/scanner"
)

// ErrNotFound is returned by Find when no configuration file exists.
var ErrNotFound = errors.New("config: no configuration file found")

// DefaultPaths are the locations probed under the project root, in order.
var DefaultPaths = []string{
	".config/ruletrace/config.yaml",
	".config/ruletrace/config.yml",
	".config/ruletrace/config.toml",
}

// Config is the complete project configuration.
type Config struct {
	Specs []*Spec `yaml:"specs" toml:"specs" json:"specs"`
}

// Spec is one specification: a set of markdown documents defining rules.
type Spec struct {
	// Name identifies the spec in selectors ("name/impl").
	Name string `yaml:"name" toml:"name" json:"name"`
	// Prefix precedes the marker bracket, as in r[auth.login]. Default "r".
	Prefix string `yaml:"prefix" toml:"prefix" json:"prefix"`
	// Include lists doublestar globs of the spec's markdown files.
	Include []string `yaml:"include" toml:"include" json:"include"`
	// Naming is an optional regular expression every rule id must match.
	Naming string  `yaml:"naming" toml:"naming" json:"naming,omitempty"`
	Impls  []*Impl `yaml:"impls" toml:"impls" json:"impls"`

	naming *regexp.Regexp
}

// Impl is one implementation traced against a spec.
type Impl struct {
	// Name defaults to the language.
	Name string `yaml:"name" toml:"name" json:"name"`
	Lang string `yaml:"lang" toml:"lang" json:"lang"`
	// Include defaults to the language's file pattern.
	Include []string `yaml:"include" toml:"include" json:"include"`
	Exclude []string `yaml:"exclude" toml:"exclude" json:"exclude"`
	// TestInclude classifies test files; defaults per language.
	TestInclude []string `yaml:"test_include" toml:"test_include" json:"test_include"`
}

// Pair names a spec/impl combination.
type Pair struct {
	Spec string `json:"spec"`
	Impl string `json:"impl"`
}

func (p Pair) String() string { return p.Spec + "/" + p.Impl }

// Find returns the first configuration file present under root.
func Find(root string) (string, error) {
	for _, p := range DefaultPaths {
		full := filepath.Join(root, p)
		if _, err := os.Stat(full); err == nil {
			return full, nil
		}
	}
	return "", ErrNotFound
}

// Load reads, defaults and validates the configuration at path. The format
// follows the file extension: .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "toml"), applies
// defaults and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("parse toml: unknown key %s", undec[0])
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for _, s := range c.Specs {
		if s.Prefix == "" {
			s.Prefix = "r"
		}
		for _, im := range s.Impls {
			im.Lang = scanner.Canonical(im.Lang)
			if im.Name == "" {
				im.Name = im.Lang
			}
			p, ok := scanner.ProfileFor(im.Lang)
			if !ok {
				continue
			}
			if len(im.Include) == 0 {
				im.Include = []string{p.DefaultInclude}
			}
			if len(im.TestInclude) == 0 {
				im.TestInclude = append([]string(nil), p.DefaultTests...)
			}
		}
	}
}

// Validate checks the configuration and compiles naming patterns.
func (c *Config) Validate() error {
	if len(c.Specs) == 0 {
		return errors.New("at least one spec is required")
	}
	specNames := make(map[string]bool)
	for i, s := range c.Specs {
		if s.Name == "" {
			return fmt.Errorf("specs[%d]: name is required", i)
		}
		if strings.Contains(s.Name, "/") {
			return fmt.Errorf("spec %q: name must not contain '/'", s.Name)
		}
		if specNames[s.Name] {
			return fmt.Errorf("spec %q: duplicate name", s.Name)
		}
		specNames[s.Name] = true
		if len(s.Include) == 0 {
			return fmt.Errorf("spec %q: include is required", s.Name)
		}
		if err := validGlobs(s.Include); err != nil {
			return fmt.Errorf("spec %q: %w", s.Name, err)
		}
		if s.Naming != "" {
			re, err := regexp.Compile(s.Naming)
			if err != nil {
				return fmt.Errorf("spec %q: naming: %w", s.Name, err)
			}
			s.naming = re
		}
		if len(s.Impls) == 0 {
			return fmt.Errorf("spec %q: at least one impl is required", s.Name)
		}
		implNames := make(map[string]bool)
		for j, im := range s.Impls {
			if im.Lang == "" {
				return fmt.Errorf("spec %q: impls[%d]: lang is required", s.Name, j)
			}
			if _, ok := scanner.ProfileFor(im.Lang); !ok {
				return fmt.Errorf("spec %q: impl %q: unknown language %q (known: %s)",
					s.Name, im.Name, im.Lang, strings.Join(scanner.Languages(), ", "))
			}
			if implNames[im.Name] {
				return fmt.Errorf("spec %q: impl %q: duplicate name", s.Name, im.Name)
			}
			implNames[im.Name] = true
			for _, globs := range [][]string{im.Include, im.Exclude, im.TestInclude} {
				if err := validGlobs(globs); err != nil {
					return fmt.Errorf("spec %q: impl %q: %w", s.Name, im.Name, err)
				}
			}
		}
	}
	return nil
}

func validGlobs(globs []string) error {
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid glob %q", g)
		}
	}
	return nil
}

// Pairs lists every spec/impl combination in configuration order.
func (c *Config) Pairs() []Pair {
	var out []Pair
	for _, s := range c.Specs {
		for _, im := range s.Impls {
			out = append(out, Pair{Spec: s.Name, Impl: im.Name})
		}
	}
	return out
}

// Spec returns the spec named name.
func (c *Config) Spec(name string) (*Spec, bool) {
	for _, s := range c.Specs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Impl returns the impl named name.
func (s *Spec) Impl(name string) (*Impl, bool) {
	for _, im := range s.Impls {
		if im.Name == name {
			return im, true
		}
	}
	return nil, false
}

// NamingPattern returns the compiled naming pattern, or nil.
func (s *Spec) NamingPattern() *regexp.Regexp { return s.naming }

// MatchesDoc reports whether path is one of the spec's documents.
func (s *Spec) MatchesDoc(path string) bool { return matchAny(s.Include, path) }

// Matches reports whether path belongs to the implementation.
func (im *Impl) Matches(path string) bool {
	return matchAny(im.Include, path) && !matchAny(im.Exclude, path)
}

// IsTest reports whether path is a test file of the implementation.
func (im *Impl) IsTest(path string) bool { return matchAny(im.TestInclude, path) }

func matchAny(globs []string, path string) bool {
	path = filepath.ToSlash(path)
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}
