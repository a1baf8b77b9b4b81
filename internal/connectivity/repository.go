// Package connectivity serves environment and connection parameters loaded
// from a YAML document.
package connectivity

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Document is the YAML layout of a connectivity file.
type Document struct {
	Environments []Environment `yaml:"environments"`
	Connections  []Connection  `yaml:"connections"`
}

// Environment is a named set of parameters.
type Environment struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Parameters  []schema.Parameter `yaml:"parameters"`
}

// Connection holds the parameters of one connection in one environment.
type Connection struct {
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type,omitempty"`
	Environment string             `yaml:"environment"`
	Parameters  []schema.Parameter `yaml:"parameters"`
}

type connKey struct{ conn, env string }

// Repository is an immutable index over a Document.
type Repository struct {
	envs  map[string][]schema.Parameter
	conns map[connKey]map[string]string
}

// Load reads a connectivity file. A missing path yields an empty repository.
func Load(path string) (*Repository, error) {
	if path == "" {
		return New(Document{})
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(Document{})
	}
	if err != nil {
		return nil, fmt.Errorf("read connectivity file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "parse connectivity file %s: %s", path, err.Error()).
			WithCause(err)
	}
	return New(doc)
}

// New indexes doc. Duplicate environments or connections are rejected.
func New(doc Document) (*Repository, error) {
	r := &Repository{
		envs:  make(map[string][]schema.Parameter, len(doc.Environments)),
		conns: make(map[connKey]map[string]string, len(doc.Connections)),
	}
	for _, e := range doc.Environments {
		if _, dup := r.envs[e.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "environment %q defined twice", e.Name)
		}
		params := slices.Clone(e.Parameters)
		slices.SortStableFunc(params, func(a, b schema.Parameter) int {
			return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Value, b.Value))
		})
		r.envs[e.Name] = params
	}
	for _, c := range doc.Connections {
		key := connKey{c.Name, c.Environment}
		if _, dup := r.conns[key]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "connection %q defined twice for environment %q", c.Name, c.Environment)
		}
		params := make(map[string]string, len(c.Parameters))
		for _, p := range c.Parameters {
			params[p.Name] = p.Value
		}
		r.conns[key] = params
	}
	return r, nil
}

// EnvironmentParameters returns the parameters of env ordered by name, then value.
func (r *Repository) EnvironmentParameters(env string) []schema.Parameter {
	return slices.Clone(r.envs[env])
}

func (r *Repository) EnvironmentParameter(env, name string) (string, bool) {
	for _, p := range r.envs[env] {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func (r *Repository) ConnectionParameter(conn, env, name string) (string, bool) {
	v, ok := r.conns[connKey{conn, env}][name]
	return v, ok
}

// HasEnvironment reports whether env is defined.
func (r *Repository) HasEnvironment(env string) bool {
	_, ok := r.envs[env]
	return ok
}
