package memory

import (
	"encoding/json"
	"sync"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// DB is an in-process backing store. The typed stores returned by its
// accessors share one lock so cross-entity checks stay atomic.
type DB struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	docOrder  []string
	sessions  map[string]*domain.ProcessingSession
	tasks     map[string]*domain.ReviewTask
	taskLog   map[string][]domain.ReviewTransition
	slaRules  map[string]domain.SlaRule
	settings  map[string]domain.OwnerSettings
}

func NewDB() *DB {
	return &DB{
		documents: map[string]*domain.Document{},
		sessions:  map[string]*domain.ProcessingSession{},
		tasks:     map[string]*domain.ReviewTask{},
		taskLog:   map[string][]domain.ReviewTransition{},
		slaRules:  map[string]domain.SlaRule{},
		settings:  map[string]domain.OwnerSettings{},
	}
}

func (db *DB) Documents() *DocumentStore { return &DocumentStore{db: db} }
func (db *DB) Sessions() *SessionStore   { return &SessionStore{db: db} }
func (db *DB) Reviews() *ReviewTaskStore { return &ReviewTaskStore{db: db} }
func (db *DB) SlaRules() *SlaRuleStore   { return &SlaRuleStore{db: db} }
func (db *DB) Settings() *SettingsStore  { return &SettingsStore{db: db} }

// deepCopy round-trips through JSON so callers never share nested maps with
// the store.
func deepCopy[T any](in *T) *T {
	if in == nil {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}
