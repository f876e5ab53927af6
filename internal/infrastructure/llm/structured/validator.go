package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const issuesSchemaKey = "issues"

// OutputError reports a model answer that does not match the expected shape.
type OutputError struct {
	Err error
}

func (e *OutputError) Error() string {
	return "model output rejected: " + e.Err.Error()
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// Validator compiles one JSON schema per document schema version and keeps it.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{compiled: map[string]*jsonschema.Schema{}}
}

func (v *Validator) ValidateExtraction(schema domain.Schema, payload []byte) error {
	compiled, err := v.compile(schema.Key()+"@"+schema.Version, func() map[string]any {
		return ExtractionSchema(schema)
	})
	if err != nil {
		return err
	}
	return validate(compiled, payload)
}

func (v *Validator) ValidateIssues(payload []byte) error {
	compiled, err := v.compile(issuesSchemaKey, IssuesSchema)
	if err != nil {
		return err
	}
	return validate(compiled, payload)
}

func (v *Validator) compile(key string, build func() map[string]any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[key]; ok {
		return s, nil
	}

	raw, err := json.Marshal(build())
	if err != nil {
		return nil, fmt.Errorf("marshal json schema %s: %w", key, err)
	}
	url := fmt.Sprintf("mem://schemas/%d.json", len(v.compiled))
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add json schema %s: %w", key, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile json schema %s: %w", key, err)
	}
	v.compiled[key] = s
	return s, nil
}

func validate(s *jsonschema.Schema, payload []byte) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return &OutputError{Err: fmt.Errorf("invalid json: %w", err)}
	}
	if err := s.Validate(doc); err != nil {
		return &OutputError{Err: err}
	}
	return nil
}
