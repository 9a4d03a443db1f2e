// Package manifest reads module declarations from a YAML file.
//
//	root: App
//	modules:
//	  - name: App
//	    imports:
//	      - Users
//	      - {module: Users, id: admin, path: /admin}
//	  - name: Users
//	    exports: [Repo]
//	    providers:
//	      mod:
//	        - {token: Repo, class: UserRepo, deps: [Conn]}
//
// Tokens are strings. Classes and extensions are interned by name, so two
// modules naming the same class declare the same implementation.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/km-arc/modgraph/framework/provider"
)

// Manifest is the root of a modules file.
type Manifest struct {
	Root    string       `yaml:"root"`
	Modules []ModuleSpec `yaml:"modules"`
}

// ModuleSpec declares one module.
type ModuleSpec struct {
	Name        string                     `yaml:"name"`
	ID          string                     `yaml:"id,omitempty"`
	Dir         string                     `yaml:"dir,omitempty"`
	Imports     []ImportSpec               `yaml:"imports,omitempty"`
	Appends     []ImportSpec               `yaml:"appends,omitempty"`
	Exports     []string                   `yaml:"exports,omitempty"`
	Providers   map[string][]ProviderSpec  `yaml:"providers,omitempty"`
	Resolved    map[string][]DirectiveSpec `yaml:"resolved,omitempty"`
	Extensions  []ExtensionSpec            `yaml:"extensions,omitempty"`
	Controllers []string                   `yaml:"controllers,omitempty"`
	Guards      []string                   `yaml:"guards,omitempty"`
}

// ImportSpec is either a bare module name or a module with params.
type ImportSpec struct {
	Module    string                    `yaml:"module"`
	ID        string                    `yaml:"id,omitempty"`
	Path      string                    `yaml:"path,omitempty"`
	Guards    []string                  `yaml:"guards,omitempty"`
	Providers map[string][]ProviderSpec `yaml:"providers,omitempty"`
	Exports   []string                  `yaml:"exports,omitempty"`
}

// Plain reports whether the import carries no params.
func (s ImportSpec) Plain() bool {
	return s.ID == "" && s.Path == "" && len(s.Guards) == 0 && len(s.Providers) == 0 && len(s.Exports) == 0
}

// UnmarshalYAML accepts "Users" as well as {module: Users, ...}.
func (s *ImportSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = ImportSpec{Module: node.Value}
		return nil
	}
	type plain ImportSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = ImportSpec(p)
	return nil
}

// ProviderSpec declares one provider. Exactly one of Class, Value or Alias
// is set; Value may be any YAML value.
type ProviderSpec struct {
	Token string   `yaml:"token"`
	Class string   `yaml:"class,omitempty"`
	Deps  []string `yaml:"deps,omitempty"`
	Value any      `yaml:"value,omitempty"`
	Alias string   `yaml:"alias,omitempty"`
	Multi bool     `yaml:"multi,omitempty"`
}

// DirectiveSpec pins the winner of a collision.
type DirectiveSpec struct {
	Token  string `yaml:"token"`
	Module string `yaml:"module"`
}

// ExtensionSpec registers a named extension in a group.
type ExtensionSpec struct {
	Name   string `yaml:"name"`
	Group  string `yaml:"group"`
	Before string `yaml:"before,omitempty"`
	Export bool   `yaml:"export,omitempty"`
}

// ErrInvalid wraps every manifest validation failure.
var ErrInvalid = errors.New("invalid manifest")

// Read parses the manifest at path.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names, scopes and provider shapes.
func (m *Manifest) Validate() error {
	if m.Root == "" {
		return fmt.Errorf("%w: root is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(m.Modules))
	for i, mod := range m.Modules {
		if mod.Name == "" {
			return fmt.Errorf("%w: modules[%d] has no name", ErrInvalid, i)
		}
		if seen[mod.Name] {
			return fmt.Errorf("%w: module %s declared twice", ErrInvalid, mod.Name)
		}
		seen[mod.Name] = true
		if err := validateProviders(mod.Name, mod.Providers); err != nil {
			return err
		}
		for scope, ds := range mod.Resolved {
			if _, err := provider.ParseScope(scope); err != nil {
				return fmt.Errorf("%w: module %s: resolved: %v", ErrInvalid, mod.Name, err)
			}
			for _, d := range ds {
				if d.Token == "" || d.Module == "" {
					return fmt.Errorf("%w: module %s: directive needs token and module", ErrInvalid, mod.Name)
				}
			}
		}
		for _, imp := range append(append([]ImportSpec(nil), mod.Imports...), mod.Appends...) {
			if imp.Module == "" {
				return fmt.Errorf("%w: module %s: import without module name", ErrInvalid, mod.Name)
			}
			if err := validateProviders(mod.Name, imp.Providers); err != nil {
				return err
			}
		}
		for _, ext := range mod.Extensions {
			if ext.Name == "" || ext.Group == "" {
				return fmt.Errorf("%w: module %s: extension needs name and group", ErrInvalid, mod.Name)
			}
		}
	}
	if !seen[m.Root] {
		return fmt.Errorf("%w: root module %s is not declared", ErrInvalid, m.Root)
	}
	return nil
}

func validateProviders(mod string, per map[string][]ProviderSpec) error {
	for scope, ps := range per {
		if _, err := provider.ParseScope(scope); err != nil {
			return fmt.Errorf("%w: module %s: providers: %v", ErrInvalid, mod, err)
		}
		for _, p := range ps {
			if p.Token == "" {
				return fmt.Errorf("%w: module %s: provider without token", ErrInvalid, mod)
			}
			set := 0
			for _, ok := range []bool{p.Class != "", p.Value != nil, p.Alias != ""} {
				if ok {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("%w: module %s: provider %s needs exactly one of class, value or alias", ErrInvalid, mod, p.Token)
			}
		}
	}
	return nil
}
