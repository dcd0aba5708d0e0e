package workflow

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DefinitionStore holds registered workflow definitions by id.
type DefinitionStore struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	logger *zap.Logger
}

// NewDefinitionStore creates an empty store.
func NewDefinitionStore(logger *zap.Logger) *DefinitionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefinitionStore{
		defs:   make(map[string]*Definition),
		logger: logger.With(zap.String("component", "workflow_store")),
	}
}

// Register validates def and stores a copy under its id. Re-registering an
// id overwrites the previous definition silently.
func (s *DefinitionStore) Register(def *Definition) error {
	if def == nil {
		return nil
	}
	if err := def.Validate(); err != nil {
		return err
	}

	stored := def.clone()
	s.mu.Lock()
	_, replacing := s.defs[stored.ID]
	s.defs[stored.ID] = stored
	s.mu.Unlock()

	s.logger.Debug("workflow registered",
		zap.String("workflow_id", stored.ID),
		zap.Int("steps", len(stored.Steps)),
		zap.Bool("replaced", replacing))
	return nil
}

// Get returns the stored definition for id.
func (s *DefinitionStore) Get(id string) (*Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	return def, ok
}

// Remove deletes a definition, reporting whether it existed.
func (s *DefinitionStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[id]
	delete(s.defs, id)
	return ok
}

// List returns all definitions sorted by id.
func (s *DefinitionStore) List() []*Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored definitions.
func (s *DefinitionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.defs)
}
