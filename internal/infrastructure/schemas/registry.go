package schemas

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// Registry resolves target schemas by (domain, docType). It is immutable
// after construction.
type Registry struct {
	byKey map[string]domain.Schema
}

type file struct {
	Schemas []domain.Schema `yaml:"schemas"`
}

// Builtin returns the schemas shipped with the service.
func Builtin() []domain.Schema {
	return []domain.Schema{
		{
			Domain:  "logistics",
			DocType: "delivery_note",
			Version: "1",
			Fields: []domain.FieldSpec{
				{Name: "note_number", Type: domain.FieldString, Required: true},
				{Name: "delivery_date", Type: domain.FieldDate, Required: true},
				{Name: "supplier", Type: domain.FieldString, Required: true},
				{Name: "recipient", Type: domain.FieldString},
			},
			LineItems: []domain.FieldSpec{
				{Name: "sku", Type: domain.FieldString},
				{Name: "description", Type: domain.FieldString},
				{Name: "quantity", Type: domain.FieldInteger},
				{Name: "unit", Type: domain.FieldString},
			},
		},
		{
			Domain:  "finance",
			DocType: "invoice",
			Version: "1",
			Fields: []domain.FieldSpec{
				{Name: "invoice_number", Type: domain.FieldString, Required: true},
				{Name: "invoice_date", Type: domain.FieldDate, Required: true},
				{Name: "vendor", Type: domain.FieldString, Required: true},
				{Name: "total", Type: domain.FieldCurrency, Required: true},
				{Name: "currency", Type: domain.FieldString},
				{Name: "tax", Type: domain.FieldCurrency},
			},
			LineItems: []domain.FieldSpec{
				{Name: "description", Type: domain.FieldString},
				{Name: "quantity", Type: domain.FieldNumber},
				{Name: "unit_price", Type: domain.FieldCurrency},
				{Name: "amount", Type: domain.FieldCurrency},
			},
		},
		{
			Domain:  "general",
			DocType: "spreadsheet",
			Version: "1",
			Fields: []domain.FieldSpec{
				{Name: "title", Type: domain.FieldString},
			},
			LineItems: []domain.FieldSpec{
				{Name: "row", Type: domain.FieldString, Description: "the row values as reported"},
			},
		},
	}
}

func New(list []domain.Schema) (*Registry, error) {
	r := &Registry{byKey: make(map[string]domain.Schema, len(list))}
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Key(), err)
		}
		r.byKey[s.Key()] = s
	}
	return r, nil
}

// Load starts from the built-in schemas and applies the YAML file at path on
// top of them. Entries in the file replace built-ins with the same key.
func Load(path string) (*Registry, error) {
	list := Builtin()
	if strings.TrimSpace(path) == "" {
		return New(list)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	r, err := New(list)
	if err != nil {
		return nil, err
	}
	for _, s := range f.Schemas {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("schema %s in %s: %w", s.Key(), path, err)
		}
		r.byKey[s.Key()] = s
	}
	slog.Info("schemas_loaded", "path", path, "custom", len(f.Schemas), "total", len(r.byKey))
	return r, nil
}

// Resolve looks up the exact key first. An empty domain matches the only
// schema registered for docType.
func (r *Registry) Resolve(domainName, docType string) (domain.Schema, error) {
	if s, ok := r.byKey[domain.SchemaKey(domainName, docType)]; ok {
		return s, nil
	}
	if strings.TrimSpace(domainName) == "" {
		var match []domain.Schema
		want := strings.ToLower(strings.TrimSpace(docType))
		for _, s := range r.byKey {
			if strings.ToLower(s.DocType) == want {
				match = append(match, s)
			}
		}
		switch len(match) {
		case 1:
			return match[0], nil
		case 0:
		default:
			return domain.Schema{}, domain.WrapError(domain.ErrValidation, "resolve schema",
				fmt.Errorf("doc type %q is ambiguous, domain is required", docType))
		}
	}
	return domain.Schema{}, domain.WrapError(domain.ErrValidation, "resolve schema",
		errors.New("no schema for "+domain.SchemaKey(domainName, docType)))
}

func (r *Registry) List() []domain.Schema {
	out := make([]domain.Schema, 0, len(r.byKey))
	for _, s := range r.byKey {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
