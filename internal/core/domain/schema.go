package domain

import (
	"errors"
	"fmt"
	"strings"
)

type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldInteger  FieldType = "integer"
	FieldCurrency FieldType = "currency"
	FieldDate     FieldType = "date"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldInteger, FieldCurrency, FieldDate:
		return true
	default:
		return false
	}
}

// Numeric reports types whose values must parse as a decimal.
func (t FieldType) Numeric() bool {
	return t == FieldNumber || t == FieldInteger || t == FieldCurrency
}

type FieldSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is the target shape for one (domain, docType) pair.
type Schema struct {
	Domain    string      `json:"domain" yaml:"domain"`
	DocType   string      `json:"doc_type" yaml:"doc_type"`
	Version   string      `json:"version" yaml:"version"`
	Fields    []FieldSpec `json:"fields" yaml:"fields"`
	LineItems []FieldSpec `json:"line_items,omitempty" yaml:"line_items,omitempty"`
}

func (s Schema) Key() string {
	return SchemaKey(s.Domain, s.DocType)
}

func SchemaKey(domainName, docType string) string {
	return strings.ToLower(strings.TrimSpace(domainName)) + "/" + strings.ToLower(strings.TrimSpace(docType))
}

func (s Schema) HasTable() bool {
	return len(s.LineItems) > 0
}

func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func (s Schema) LineItemField(name string) (FieldSpec, bool) {
	for _, f := range s.LineItems {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func (s Schema) RequiredFields() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s Schema) IsRequired(name string) bool {
	f, ok := s.Field(name)
	return ok && f.Required
}

// Validate rejects malformed schemas before any model is called.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.DocType) == "" {
		return WrapError(ErrValidation, "validate schema", errors.New("doc_type is required"))
	}
	if len(s.Fields) == 0 && len(s.LineItems) == 0 {
		return WrapError(ErrValidation, "validate schema", fmt.Errorf("schema %s declares no fields", s.Key()))
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if err := validateFieldSpec(f, seen); err != nil {
			return WrapError(ErrValidation, "validate schema "+s.Key(), err)
		}
	}
	seenItems := make(map[string]struct{}, len(s.LineItems))
	for _, f := range s.LineItems {
		if err := validateFieldSpec(f, seenItems); err != nil {
			return WrapError(ErrValidation, "validate schema "+s.Key()+" line_items", err)
		}
	}
	return nil
}

func validateFieldSpec(f FieldSpec, seen map[string]struct{}) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return errors.New("field name is required")
	}
	if !f.Type.Valid() {
		return fmt.Errorf("field %q has unsupported type %q", name, f.Type)
	}
	if _, dup := seen[name]; dup {
		return fmt.Errorf("duplicate field %q", name)
	}
	seen[name] = struct{}{}
	return nil
}
