package memory

import (
	"context"
	"sort"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type SlaRuleStore struct {
	db *DB
}

func ruleKey(userID, docType string) string {
	return userID + "\x00" + docType
}

func (s *SlaRuleStore) Get(_ context.Context, userID, docType string) (*domain.SlaRule, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rule, ok := s.db.slaRules[ruleKey(userID, docType)]
	if !ok {
		return nil, notFound("sla rule", userID+"/"+docType)
	}
	return &rule, nil
}

func (s *SlaRuleStore) Upsert(_ context.Context, rule domain.SlaRule) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.slaRules[ruleKey(rule.UserID, rule.DocType)] = rule
	return nil
}

func (s *SlaRuleStore) List(_ context.Context, userID string) ([]domain.SlaRule, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]domain.SlaRule, 0)
	for _, rule := range s.db.slaRules {
		if rule.UserID == userID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocType < out[j].DocType })
	return out, nil
}

type SettingsStore struct {
	db *DB
}

func (s *SettingsStore) GetOwnerSettings(_ context.Context, userID string) (*domain.OwnerSettings, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	settings, ok := s.db.settings[userID]
	if !ok {
		return nil, notFound("owner settings", userID)
	}
	return &settings, nil
}

func (s *SettingsStore) SaveOwnerSettings(_ context.Context, settings domain.OwnerSettings) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.settings[settings.UserID] = settings
	return nil
}
