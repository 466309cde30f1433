// Package schema is the declarative NWB/DANDI field catalog described in
// spec §4.1: a single table that simultaneously generates the LLM
// extraction prompt, validates extracted values, and normalizes
// synonyms/formats, so that adding a field is a catalog.yaml edit rather
// than a change scattered across the prompt, validator, and UI.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nwbconvert/orchestrator/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

// FieldSpec is one entry in the Schema Catalog (spec §4.1).
type FieldSpec struct {
	Name                string                    `yaml:"name" json:"name"`
	DisplayName         string                    `yaml:"display_name" json:"display_name"`
	Description         string                    `yaml:"description" json:"description"`
	FieldType           domain.FieldType          `yaml:"field_type" json:"field_type"`
	RequirementLevel    domain.FieldRequirementLevel `yaml:"requirement_level" json:"requirement_level"`
	AllowedValues       []string                  `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	Format              string                    `yaml:"format,omitempty" json:"format,omitempty"`
	Example             string                    `yaml:"example" json:"example"`
	ExtractionPatterns  []string                  `yaml:"extraction_patterns,omitempty" json:"extraction_patterns,omitempty"`
	Synonyms            []string                  `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
	NormalizationRules  map[string]string         `yaml:"normalization_rules,omitempty" json:"normalization_rules,omitempty"`
	NWBPath             string                    `yaml:"nwb_path" json:"nwb_path"`
	DANDIField          string                    `yaml:"dandi_field" json:"dandi_field"`
	WhyNeeded           string                    `yaml:"why_needed" json:"why_needed"`
}

type catalogFile struct {
	Fields []FieldSpec `yaml:"fields"`
}

// Catalog is the in-memory, queryable registry built from catalog.yaml.
type Catalog struct {
	fields   []FieldSpec
	byName   map[string]*FieldSpec
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog parsed from the embedded catalog.yaml. It is
// parsed once per process; callers needing a custom catalog (tests, a
// different field set) should use Load/LoadBytes directly.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = LoadBytes(catalogYAML)
	})
	return defaultCatalog, defaultErr
}

// MustDefault panics if the embedded catalog fails to parse. Process wiring
// (cmd/main.go) uses this; request-path code should prefer Default().
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadBytes parses a catalog.yaml document into a Catalog.
func LoadBytes(raw []byte) (*Catalog, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("schema: parse catalog: %w", err)
	}
	c := &Catalog{
		fields: cf.Fields,
		byName: make(map[string]*FieldSpec, len(cf.Fields)),
	}
	for i := range c.fields {
		f := &c.fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("schema: field at index %d has no name", i)
		}
		c.byName[f.Name] = f
	}
	return c, nil
}

// Fields returns every field in catalog order.
func (c *Catalog) Fields() []FieldSpec { return c.fields }

// ByName looks up a field by its canonical name.
func (c *Catalog) ByName(name string) (*FieldSpec, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// ByRequirementLevel filters fields by requirement level, preserving
// catalog order.
func (c *Catalog) ByRequirementLevel(level domain.FieldRequirementLevel) []FieldSpec {
	out := make([]FieldSpec, 0, len(c.fields))
	for _, f := range c.fields {
		if f.RequirementLevel == level {
			out = append(out, f)
		}
	}
	return out
}

// DisplayName returns a field's display name, falling back to its raw name
// if the field is unknown (defensive UI helper).
func (c *Catalog) DisplayName(name string) string {
	if f, ok := c.byName[name]; ok && f.DisplayName != "" {
		return f.DisplayName
	}
	return strings.ReplaceAll(name, "_", " ")
}

// FieldNames returns every field's canonical name, catalog order.
func (c *Catalog) FieldNames() []string {
	out := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f.Name)
	}
	return out
}
