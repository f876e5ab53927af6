package domain

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// HeaderItemIndex marks an issue that belongs to a header field.
const HeaderItemIndex = -1

type VerificationIssue struct {
	ItemIndex    int      `json:"item_index"`
	Field        string   `json:"field"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	Suggestion   string   `json:"suggestion,omitempty"`
	CurrentValue string   `json:"current_value,omitempty"`
}

// VerificationRequest is one checker call. Items keep their absolute index
// in the document so returned issues can be attributed.
type VerificationRequest struct {
	DocumentID string
	Schema     Schema
	SourceText string
	Fields     map[string]FieldValue
	LineItems  []LineItem
	FirstItem  int
	BatchIndex int
	BatchCount int
}

func HasErrorIssue(issues []VerificationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}
