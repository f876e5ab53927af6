package domain

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionStopped   SessionStatus = "stopped"
	SessionCompleted SessionStatus = "completed"
)

// ProcessingSession is a user-scoped batch run. At most one session per user
// may be active at a time.
type ProcessingSession struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	DocumentIDs []string      `json:"document_ids"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   *time.Time    `json:"stopped_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func (s *ProcessingSession) Active() bool {
	return s != nil && s.Status == SessionActive
}

// RollbackResult lists what a cancellation returned to pending and what it
// could not.
type RollbackResult struct {
	RolledBack []string          `json:"rolled_back"`
	Failed     []RollbackFailure `json:"failed"`
}

func (r *RollbackResult) Partial() bool {
	return r != nil && len(r.Failed) > 0
}

// Err returns a *PartialRollbackError when some documents stayed processing.
func (r *RollbackResult) Err() error {
	if !r.Partial() {
		return nil
	}
	return &PartialRollbackError{
		RolledBack: append([]string(nil), r.RolledBack...),
		Failed:     append([]RollbackFailure(nil), r.Failed...),
	}
}
