package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type SlaRuleRepository struct {
	db *sql.DB
}

func NewSlaRuleRepository(db *sql.DB) *SlaRuleRepository {
	return &SlaRuleRepository{db: db}
}

func (r *SlaRuleRepository) Get(ctx context.Context, userID, docType string) (*domain.SlaRule, error) {
	var rule domain.SlaRule
	err := r.db.QueryRowContext(ctx, `
SELECT user_id, doc_type, warning_minutes, breach_minutes, enabled
FROM sla_rules
WHERE user_id = $1 AND doc_type = $2
`, userID, docType).Scan(&rule.UserID, &rule.DocType, &rule.WarningMinutes, &rule.BreachMinutes, &rule.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("sla rule", userID+"/"+docType)
		}
		return nil, fmt.Errorf("get sla rule: %w", err)
	}
	return &rule, nil
}

func (r *SlaRuleRepository) Upsert(ctx context.Context, rule domain.SlaRule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sla_rules (user_id, doc_type, warning_minutes, breach_minutes, enabled, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, doc_type) DO UPDATE
SET warning_minutes = EXCLUDED.warning_minutes,
	breach_minutes = EXCLUDED.breach_minutes,
	enabled = EXCLUDED.enabled,
	updated_at = EXCLUDED.updated_at
`, rule.UserID, rule.DocType, rule.WarningMinutes, rule.BreachMinutes, rule.Enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert sla rule: %w", err)
	}
	return nil
}

func (r *SlaRuleRepository) List(ctx context.Context, userID string) ([]domain.SlaRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, doc_type, warning_minutes, breach_minutes, enabled
FROM sla_rules
WHERE user_id = $1
ORDER BY doc_type
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sla rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SlaRule, 0)
	for rows.Next() {
		var rule domain.SlaRule
		if err := rows.Scan(&rule.UserID, &rule.DocType, &rule.WarningMinutes, &rule.BreachMinutes, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("scan sla rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla rules: %w", err)
	}
	return out, nil
}

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetOwnerSettings(ctx context.Context, userID string) (*domain.OwnerSettings, error) {
	settings := domain.OwnerSettings{UserID: userID}
	err := r.db.QueryRowContext(ctx, `SELECT auto_approve_threshold FROM owner_settings WHERE user_id = $1`, userID).
		Scan(&settings.AutoApproveThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("owner settings", userID)
		}
		return nil, fmt.Errorf("get owner settings: %w", err)
	}
	return &settings, nil
}

func (r *SettingsRepository) SaveOwnerSettings(ctx context.Context, settings domain.OwnerSettings) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO owner_settings (user_id, auto_approve_threshold, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id) DO UPDATE
SET auto_approve_threshold = EXCLUDED.auto_approve_threshold,
	updated_at = EXCLUDED.updated_at
`, settings.UserID, settings.AutoApproveThreshold, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save owner settings: %w", err)
	}
	return nil
}
