// Package repository serves script and component definitions loaded from a
// directory of YAML or JSON files.
package repository

import (
	"cmp"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BKyryl/iesi/internal/validation"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Extensions lists the file extensions Load reads.
var Extensions = []string{".yaml", ".yml", ".json"}

// document is the envelope of a definition file.
type document struct {
	Type string    `yaml:"type"`
	Data yaml.Node `yaml:"data"`
}

// ScriptInfo summarizes one stored script version.
type ScriptInfo struct {
	Name        string `json:"name"`
	Version     int64  `json:"version"`
	Description string `json:"description,omitempty"`
	Actions     int    `json:"actions"`
}

// Repository indexes scripts by name and version and components by name.
// Names match case-insensitively. Safe for concurrent use.
type Repository struct {
	validator *validation.ScriptValidator

	mu         sync.RWMutex
	scripts    map[string]map[int64]*schema.Script
	components map[string]*schema.Component
}

// New creates an empty Repository. A nil validator skips all checks.
func New(v *validation.ScriptValidator) *Repository {
	return &Repository{
		validator:  v,
		scripts:    make(map[string]map[int64]*schema.Script),
		components: make(map[string]*schema.Component),
	}
}

// Load reads every definition file directly inside dir.
func Load(dir string, v *validation.ScriptValidator) (*Repository, error) {
	r := New(v)
	if dir == "" {
		return r, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "read scripts directory %s: %s", dir, err.Error()).WithCause(err)
	}
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(Extensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, e.Name())); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadFile validates and adds the definition held in path.
func (r *Repository) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read definition: %w", err)
	}
	if err := r.LoadBytes(data); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadBytes validates and adds one YAML or JSON definition.
func (r *Repository) LoadBytes(data []byte) error {
	if r.validator != nil {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "parse definition: %s", err.Error()).WithCause(err)
		}
		if err := r.validator.ValidateDocument(raw); err != nil {
			return err
		}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "parse definition: %s", err.Error()).WithCause(err)
	}
	switch strings.ToLower(doc.Type) {
	case validation.KindScript:
		var s schema.Script
		if err := doc.Data.Decode(&s); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "decode script: %s", err.Error()).WithCause(err)
		}
		return r.AddScript(&s)
	case validation.KindComponent:
		var c schema.Component
		if err := doc.Data.Decode(&c); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "decode component: %s", err.Error()).WithCause(err)
		}
		return r.AddComponent(&c)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown definition type %q", doc.Type)
	}
}

// AddScript stores s. Missing ids are derived from the script name and the
// action numbers. A second script with the same name and version conflicts.
func (r *Repository) AddScript(s *schema.Script) error {
	if s == nil || strings.TrimSpace(s.Name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "script name is required")
	}
	if s.ID == "" {
		s.ID = s.Name
	}
	for i := range s.Actions {
		if s.Actions[i].ID == "" {
			s.Actions[i].ID = s.Name + "." + strconv.FormatInt(s.Actions[i].Number, 10)
		}
	}
	if r.validator != nil {
		if err := r.validator.ValidateScript(s); err != nil {
			return err
		}
	}

	key := strings.ToLower(s.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.scripts[key]
	if !ok {
		versions = make(map[int64]*schema.Script)
		r.scripts[key] = versions
	}
	if _, dup := versions[s.Version]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "script %s version %d defined twice", s.Name, s.Version)
	}
	versions[s.Version] = s
	return nil
}

// AddComponent stores c.
func (r *Repository) AddComponent(c *schema.Component) error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "component name is required")
	}
	key := strings.ToLower(c.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.components[key]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "component %s defined twice", c.Name)
	}
	r.components[key] = c
	return nil
}

// Script returns a script by name. Version 0 selects the highest version.
func (r *Repository) Script(name string, version int64) (*schema.Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.scripts[strings.ToLower(name)]
	if !ok || len(versions) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "script %q not found", name)
	}
	if version == 0 {
		version = slices.Max(slices.Collect(maps.Keys(versions)))
	}
	s, ok := versions[version]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "script %q version %d not found", name, version)
	}
	return s, nil
}

func (r *Repository) Component(name string) (*schema.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[strings.ToLower(name)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "component %q not found", name)
	}
	return c, nil
}

// Scripts lists every stored version ordered by name, then version.
func (r *Repository) Scripts() []ScriptInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ScriptInfo
	for _, versions := range r.scripts {
		for _, s := range versions {
			out = append(out, ScriptInfo{Name: s.Name, Version: s.Version, Description: s.Description, Actions: len(s.Actions)})
		}
	}
	slices.SortFunc(out, func(a, b ScriptInfo) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.Version, b.Version))
	})
	return out
}
