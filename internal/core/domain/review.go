package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reLineItemKey = regexp.MustCompile(`^lineItems\[(\d+)\]\.(.+)$`)

type ReviewStatus string

const (
	ReviewAssigned         ReviewStatus = "assigned"
	ReviewApproved         ReviewStatus = "approved"
	ReviewRejected         ReviewStatus = "rejected"
	ReviewChangesRequested ReviewStatus = "changes_requested"
)

var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewAssigned:         {ReviewApproved, ReviewRejected, ReviewChangesRequested},
	ReviewRejected:         {ReviewAssigned},
	ReviewChangesRequested: {ReviewAssigned},
}

func CanTransitionReview(from, to ReviewStatus) bool {
	for _, next := range reviewTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewAssigned, ReviewApproved, ReviewRejected, ReviewChangesRequested:
		return true
	default:
		return false
	}
}

// Open reports statuses that still count against the SLA clock.
func (s ReviewStatus) Open() bool {
	return s == ReviewAssigned || s == ReviewChangesRequested
}

type ReviewTask struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	OwnerID    string       `json:"owner_id"`
	DocType    string       `json:"doc_type"`
	AssignedTo *string      `json:"assigned_to,omitempty"`
	Status     ReviewStatus `json:"status"`
	AssignedAt time.Time    `json:"assigned_at"`
	DueAt      time.Time    `json:"due_at"`
	Notes      string       `json:"notes,omitempty"`
	Cycle      int          `json:"cycle"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ReviewPayload carries the reviewer input for a transition.
type ReviewPayload struct {
	Reason           string            `json:"reason,omitempty"`
	RequestedChanges []string          `json:"requested_changes,omitempty"`
	EditedFields     map[string]string `json:"edited_fields,omitempty"`
	Note             string            `json:"note,omitempty"`
}

// Validate enforces the payload each target status requires.
func (p ReviewPayload) Validate(next ReviewStatus) error {
	switch next {
	case ReviewRejected:
		if strings.TrimSpace(p.Reason) == "" {
			return WrapError(ErrValidation, "validate review payload", errors.New("rejection requires a reason"))
		}
	case ReviewChangesRequested:
		n := 0
		for _, c := range p.RequestedChanges {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		if n == 0 {
			return WrapError(ErrValidation, "validate review payload", errors.New("at least one requested change is required"))
		}
	}
	return nil
}

// ValidateEdits checks that every lineItems[i].field edit addresses an
// existing item of data. Other keys are header or extension fields.
func (p ReviewPayload) ValidateEdits(data *ExtractedData) error {
	items := 0
	if data != nil {
		items = len(data.LineItems)
	}
	for key := range p.EditedFields {
		if !strings.HasPrefix(key, "lineItems[") {
			continue
		}
		idx, _, ok := LineItemKey(key)
		if !ok {
			return WrapError(ErrValidation, "validate review edits", fmt.Errorf("malformed line item key %q", key))
		}
		if idx >= items {
			return WrapError(ErrValidation, "validate review edits", fmt.Errorf("line item %d out of range (%d items)", idx, items))
		}
	}
	return nil
}

// LineItemKey splits an edit key of the form lineItems[i].field.
func LineItemKey(key string) (int, string, bool) {
	m := reLineItemKey.FindStringSubmatch(key)
	if m == nil {
		return 0, "", false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return idx, m[2], true
}

// ReviewTransition is one entry of the append-only review log.
type ReviewTransition struct {
	TaskID  string        `json:"task_id"`
	From    ReviewStatus  `json:"from"`
	To      ReviewStatus  `json:"to"`
	ActorID string        `json:"actor_id"`
	At      time.Time     `json:"at"`
	Note    string        `json:"note,omitempty"`
	Payload ReviewPayload `json:"payload"`
	Cycle   int           `json:"cycle"`
}
