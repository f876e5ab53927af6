package domain

import "time"

// Route is the extraction engine chosen for a document.
type Route string

const (
	RouteOCR     Route = "ocr"
	RouteGeneral Route = "general"
)

func (r Route) Valid() bool {
	return r == RouteOCR || r == RouteGeneral
}

type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type LineItem struct {
	Values     map[string]string `json:"values"`
	Confidence float64           `json:"confidence"`
}

// ExtractedData is the persisted field payload of a document. Keys declared
// by the active schema live in Fields, everything else in Extensions.
type ExtractedData struct {
	Fields     map[string]FieldValue `json:"fields"`
	LineItems  []LineItem            `json:"line_items"`
	Extensions map[string]FieldValue `json:"extensions,omitempty"`
}

// ExtractionResult is produced once per engine run and never mutated;
// reconciliation returns a new value.
type ExtractionResult struct {
	Fields            map[string]FieldValue `json:"fields"`
	LineItems         []LineItem            `json:"line_items"`
	Extensions        map[string]FieldValue `json:"extensions,omitempty"`
	EngineUsed        string                `json:"engine_used"`
	OverallConfidence float64               `json:"overall_confidence"`
	Batches           int                   `json:"batches"`
}

// Clone returns a deep copy so callers can derive a new result safely.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := &ExtractionResult{
		Fields:            make(map[string]FieldValue, len(r.Fields)),
		LineItems:         make([]LineItem, 0, len(r.LineItems)),
		EngineUsed:        r.EngineUsed,
		OverallConfidence: r.OverallConfidence,
		Batches:           r.Batches,
	}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	for _, item := range r.LineItems {
		out.LineItems = append(out.LineItems, item.clone())
	}
	if len(r.Extensions) > 0 {
		out.Extensions = make(map[string]FieldValue, len(r.Extensions))
		for k, v := range r.Extensions {
			out.Extensions[k] = v
		}
	}
	return out
}

func (li LineItem) clone() LineItem {
	values := make(map[string]string, len(li.Values))
	for k, v := range li.Values {
		values[k] = v
	}
	return LineItem{Values: values, Confidence: li.Confidence}
}

// Data converts the result into the persisted payload shape.
func (r *ExtractionResult) Data() *ExtractedData {
	c := r.Clone()
	return &ExtractedData{Fields: c.Fields, LineItems: c.LineItems, Extensions: c.Extensions}
}

type QualityAssessment struct {
	ScanQuality          float64 `json:"scan_quality"`
	StructuralComplexity float64 `json:"structural_complexity"`
	Route                Route   `json:"route"`
	Rationale            string  `json:"rationale"`
	Fallback             bool    `json:"fallback,omitempty"`
}

type ReconciliationResult struct {
	Merged           *ExtractionResult `json:"merged"`
	ChangedFieldKeys []string          `json:"changed_field_keys"`
	ReexaminedFields []string          `json:"reexamined_fields"`
	ReexaminedItems  []int             `json:"reexamined_items"`
	NewConfidence    float64           `json:"new_confidence"`
	Model            string            `json:"model,omitempty"`
}

// SourceDocument is the loaded content of a stored document. Text sources
// keep the full text plus the table-like lines split out of it; spreadsheets
// fill Header and Rows.
type SourceDocument struct {
	DocumentID string
	MimeType   string
	Text       string
	Preamble   string
	TableLines []string
	Pages      int
	Rows       [][]string
	Header     []string
	Images     [][]byte
	SizeBytes  int64
}

// Empty reports a source with nothing an engine could read.
func (s SourceDocument) Empty() bool {
	return !s.HasTextLayer() && len(s.Images) == 0
}

// HasTextLayer reports whether the source carries machine-readable text.
func (s SourceDocument) HasTextLayer() bool {
	return s.Text != "" || len(s.Rows) > 0
}

// ExtractionRequest is a single bounded engine call.
type ExtractionRequest struct {
	DocumentID    string
	Schema        Schema
	Text          string
	Header        []string
	Rows          [][]string
	Images        [][]byte
	BatchIndex    int
	BatchCount    int
	IncludeHeader bool
}

// ReconcileRequest asks a stronger model to re-read only weak parts.
type ReconcileRequest struct {
	DocumentID string
	Schema     Schema
	Source     SourceDocument
	Fields     map[string]FieldValue
	LineItems  map[int]LineItem
}

// ReconcileResponse carries the re-read values keyed like the request.
type ReconcileResponse struct {
	Fields    map[string]FieldValue
	LineItems map[int]LineItem
	Model     string
}

type ModelUsage struct {
	Role             string        `json:"role"`
	Model            string        `json:"model"`
	DocumentID       string        `json:"document_id,omitempty"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Duration         time.Duration `json:"duration"`
	// Failed marks an attempt that got no usable response; tokens are zero.
	Failed bool `json:"failed,omitempty"`
}
