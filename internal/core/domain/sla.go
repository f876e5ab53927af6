package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskOK      RiskLevel = "ok"
	RiskWarning RiskLevel = "warning"
	RiskBreach  RiskLevel = "breach"
)

type SlaRule struct {
	UserID         string `json:"user_id"`
	DocType        string `json:"doc_type"`
	WarningMinutes int    `json:"warning_minutes"`
	BreachMinutes  int    `json:"breach_minutes"`
	Enabled        bool   `json:"enabled"`
}

func (r SlaRule) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return WrapError(ErrValidation, "validate sla rule", errors.New("user_id is required"))
	}
	if strings.TrimSpace(r.DocType) == "" {
		return WrapError(ErrValidation, "validate sla rule", errors.New("doc_type is required"))
	}
	if r.WarningMinutes <= 0 || r.BreachMinutes <= r.WarningMinutes {
		return WrapError(ErrValidation, "validate sla rule",
			fmt.Errorf("expected 0 < warning < breach, got %d/%d", r.WarningMinutes, r.BreachMinutes))
	}
	return nil
}

// Classify maps elapsed minutes to a risk level. Disabled rules are always ok.
func (r SlaRule) Classify(elapsedMinutes float64) RiskLevel {
	if !r.Enabled {
		return RiskOK
	}
	switch {
	case elapsedMinutes < float64(r.WarningMinutes):
		return RiskOK
	case elapsedMinutes < float64(r.BreachMinutes):
		return RiskWarning
	default:
		return RiskBreach
	}
}

type SlaEvaluation struct {
	TaskID         string    `json:"task_id"`
	DocumentID     string    `json:"document_id"`
	DocType        string    `json:"doc_type"`
	ElapsedMinutes float64   `json:"elapsed_minutes"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Rule           SlaRule   `json:"rule"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}
