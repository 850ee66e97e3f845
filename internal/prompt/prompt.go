// Package prompt holds the editable prompt templates used to enrich records.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/vocab-enricher/pkg/record"
)

//go:embed variants.yaml
var builtin []byte

// ErrUnknownVariant is returned when a variant name is not in the catalog.
var ErrUnknownVariant = errors.New("unknown prompt variant")

// Variant is one prompt template and the fields its responses must carry.
type Variant struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Model          string   `yaml:"model"`
	RequiredFields []string `yaml:"required_fields"`
	Categories     []string `yaml:"categories"`
	Template       string   `yaml:"template"`

	tmpl *template.Template
}

// Catalog is a set of variants with a default.
type Catalog struct {
	Default  string     `yaml:"default"`
	Variants []*Variant `yaml:"variants"`
}

type templateData struct {
	RecordJSON string
	Categories []string
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Builtin returns the catalog compiled into the binary.
func Builtin() (*Catalog, error) {
	return Parse(builtin)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return Parse(b)
}

// Parse decodes and compiles a YAML catalog.
func Parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode prompt catalog: %w", err)
	}
	if len(c.Variants) == 0 {
		return nil, errors.New("prompt catalog has no variants")
	}
	seen := make(map[string]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			return nil, errors.New("prompt variant without a name")
		}
		if _, dup := seen[v.Name]; dup {
			return nil, fmt.Errorf("duplicate prompt variant %q", v.Name)
		}
		seen[v.Name] = struct{}{}
		if err := v.compile(); err != nil {
			return nil, err
		}
	}
	if c.Default == "" {
		c.Default = c.Variants[0].Name
	}
	if _, ok := seen[c.Default]; !ok {
		return nil, fmt.Errorf("default prompt variant %q: %w", c.Default, ErrUnknownVariant)
	}
	return &c, nil
}

// Names lists variant names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Variants))
	for _, v := range c.Variants {
		out = append(out, v.Name)
	}
	return out
}

// Get returns the named variant; an empty name selects the default.
func (c *Catalog) Get(name string) (*Variant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Default
	}
	i := slices.IndexFunc(c.Variants, func(v *Variant) bool { return v.Name == name })
	if i < 0 {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknownVariant, name, strings.Join(c.Names(), ", "))
	}
	return c.Variants[i], nil
}

func (v *Variant) compile() error {
	if strings.TrimSpace(v.Template) == "" {
		return fmt.Errorf("prompt variant %q has an empty template", v.Name)
	}
	t, err := template.New(v.Name).Funcs(funcs).Option("missingkey=error").Parse(v.Template)
	if err != nil {
		return fmt.Errorf("prompt variant %q: %w", v.Name, err)
	}
	v.tmpl = t
	return nil
}

// Render fills the template with rec as indented JSON.
func (v *Variant) Render(rec record.Record) (string, error) {
	if v.tmpl == nil {
		if err := v.compile(); err != nil {
			return "", err
		}
	}
	compact, err := rec.MarshalJSON()
	if err != nil {
		return "", err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, compact, "", "  "); err != nil {
		return "", err
	}

	var out bytes.Buffer
	if err := v.tmpl.Execute(&out, templateData{RecordJSON: indented.String(), Categories: v.Categories}); err != nil {
		return "", fmt.Errorf("render %q: %w", v.Name, err)
	}
	return out.String(), nil
}

// Contract returns the response contract for this variant under mode.
func (v *Variant) Contract(mode schema.Mode) schema.Contract {
	return schema.Contract{Mode: mode, Required: slices.Clone(v.RequiredFields)}
}
