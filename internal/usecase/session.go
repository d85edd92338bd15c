package usecase

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"kbagent/internal/domain"
)

// Session is the state of one interactive session: a registry of documents
// ingested during it and the conversation so far. The registry mirrors the
// vector store for display and dedup only; a new session starts empty even
// when the store is not.
type Session struct {
	id string

	mu        sync.Mutex
	docs      map[string]domain.Document
	processed map[string]struct{}
	turns     []domain.Turn
}

func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		docs:      make(map[string]domain.Document),
		processed: make(map[string]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// IsProcessed reports whether name was ingested during this session.
func (s *Session) IsProcessed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[name]
	return ok
}

// Record registers a successfully ingested document and marks it processed.
func (s *Session) Record(doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.Name] = doc
	s.processed[doc.Name] = struct{}{}
}

// Forget drops name from the registry and the processed set.
func (s *Session) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, name)
	delete(s.processed, name)
}

func (s *Session) Document(name string) (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[name]
	return doc, ok
}

// Documents returns the registry sorted by name.
func (s *Session) Documents() []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs
}

// AppendTurn adds a turn to the conversation. Turns are never edited.
func (s *Session) AppendTurn(role domain.Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, domain.Turn{Role: role, Text: text})
}

// Turns returns a copy of the conversation in order.
func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}
