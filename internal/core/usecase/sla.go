package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

type SLAConfig struct {
	DefaultWarningMinutes int
	DefaultBreachMinutes  int
}

// SLAUseCase evaluates review risk on demand. Nothing is cached except the
// rules themselves, which the rule store may cache.
type SLAUseCase struct {
	tasks ports.ReviewTaskStore
	rules ports.SlaRuleStore
	cfg   SLAConfig
	now   func() time.Time
}

func NewSLAUseCase(tasks ports.ReviewTaskStore, rules ports.SlaRuleStore, cfg SLAConfig) *SLAUseCase {
	if cfg.DefaultWarningMinutes <= 0 {
		cfg.DefaultWarningMinutes = 60
	}
	if cfg.DefaultBreachMinutes <= cfg.DefaultWarningMinutes {
		cfg.DefaultBreachMinutes = 240
	}
	return &SLAUseCase{
		tasks: tasks,
		rules: rules,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RuleFor resolves (user, docType), then the system default.
func (uc *SLAUseCase) RuleFor(ctx context.Context, userID, docType string) (domain.SlaRule, error) {
	if uc.rules != nil {
		rule, err := uc.rules.Get(ctx, userID, docType)
		if err == nil {
			return *rule, nil
		}
		if !domain.IsKind(err, domain.ErrNotFound) {
			return domain.SlaRule{}, fmt.Errorf("load sla rule: %w", err)
		}
	}
	return domain.SlaRule{
		UserID:         userID,
		DocType:        docType,
		WarningMinutes: uc.cfg.DefaultWarningMinutes,
		BreachMinutes:  uc.cfg.DefaultBreachMinutes,
		Enabled:        true,
	}, nil
}

func (uc *SLAUseCase) Evaluate(ctx context.Context, userID string) ([]domain.SlaEvaluation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "evaluate sla", fmt.Errorf("user_id is required"))
	}
	tasks, err := uc.tasks.ListOpen(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list open review tasks: %w", err)
	}

	now := uc.now()
	rules := map[string]domain.SlaRule{}
	out := make([]domain.SlaEvaluation, 0, len(tasks))
	for _, task := range tasks {
		rule, ok := rules[task.DocType]
		if !ok {
			rule, err = uc.RuleFor(ctx, userID, task.DocType)
			if err != nil {
				return nil, err
			}
			rules[task.DocType] = rule
		}
		elapsed := now.Sub(task.CreatedAt).Minutes()
		if elapsed < 0 {
			elapsed = 0
		}
		out = append(out, domain.SlaEvaluation{
			TaskID:         task.ID,
			DocumentID:     task.DocumentID,
			DocType:        task.DocType,
			ElapsedMinutes: elapsed,
			RiskLevel:      rule.Classify(elapsed),
			Rule:           rule,
			EvaluatedAt:    now,
		})
	}
	return out, nil
}

func (uc *SLAUseCase) UpsertRule(ctx context.Context, rule domain.SlaRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := uc.rules.Upsert(ctx, rule); err != nil {
		return fmt.Errorf("upsert sla rule: %w", err)
	}
	return nil
}

func (uc *SLAUseCase) ListRules(ctx context.Context, userID string) ([]domain.SlaRule, error) {
	return uc.rules.List(ctx, userID)
}

// SLAMonitor periodically evaluates every user with open review tasks and
// notifies once per task each time its risk level rises.
type SLAMonitor struct {
	sla      *SLAUseCase
	tasks    ports.ReviewTaskStore
	notifier ports.Notifier
	metrics  ports.SLAMetrics

	mu   sync.Mutex
	last map[string]domain.RiskLevel
}

func NewSLAMonitor(sla *SLAUseCase, tasks ports.ReviewTaskStore, notifier ports.Notifier, metrics ports.SLAMetrics) *SLAMonitor {
	return &SLAMonitor{
		sla:      sla,
		tasks:    tasks,
		notifier: notifier,
		metrics:  metrics,
		last:     map[string]domain.RiskLevel{},
	}
}

func (m *SLAMonitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sla_monitor_tick_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one evaluation pass and returns the risk counts it saw.
func (m *SLAMonitor) Tick(ctx context.Context) (map[domain.RiskLevel]int, error) {
	owners, err := m.tasks.ListOpenOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open review owners: %w", err)
	}

	counts := map[domain.RiskLevel]int{domain.RiskOK: 0, domain.RiskWarning: 0, domain.RiskBreach: 0}
	seen := map[string]struct{}{}
	for _, owner := range owners {
		evals, err := m.sla.Evaluate(ctx, owner)
		if err != nil {
			slog.Warn("sla_evaluate_failed", "user_id", owner, "error", err)
			continue
		}
		for _, ev := range evals {
			counts[ev.RiskLevel]++
			seen[ev.TaskID] = struct{}{}
			if m.escalated(ev.TaskID, ev.RiskLevel) {
				m.notify(ctx, owner, ev)
			}
		}
	}

	m.mu.Lock()
	for taskID := range m.last {
		if _, ok := seen[taskID]; !ok {
			delete(m.last, taskID)
		}
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetOpenRisk(counts)
	}
	return counts, nil
}

func (m *SLAMonitor) escalated(taskID string, level domain.RiskLevel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.last[taskID]
	m.last[taskID] = level
	return level != domain.RiskOK && riskRank(level) > riskRank(prev)
}

func (m *SLAMonitor) notify(ctx context.Context, owner string, ev domain.SlaEvaluation) {
	if m.notifier == nil {
		return
	}
	event := "sla." + string(ev.RiskLevel)
	if err := m.notifier.Notify(ctx, event, map[string]any{
		"user_id":         owner,
		"task_id":         ev.TaskID,
		"document_id":     ev.DocumentID,
		"doc_type":        ev.DocType,
		"elapsed_minutes": ev.ElapsedMinutes,
	}); err != nil {
		slog.Warn("notify_failed", "event", event, "task_id", ev.TaskID, "error", err)
	}
}

func riskRank(level domain.RiskLevel) int {
	switch level {
	case domain.RiskWarning:
		return 1
	case domain.RiskBreach:
		return 2
	default:
		return 0
	}
}
