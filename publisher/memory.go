package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/withobsrvr/postgres-to-es/document"
)

// MemoryStore is an in-process Store keyed by index and document id. Tests
// use it as the search engine.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]map[string]json.RawMessage
	schemas map[string][]byte

	// Reject, when set, rejects documents for which it returns a reason.
	Reject func(document.Action) string
	// TransportFailures makes the next n calls fail with ErrTransport.
	TransportFailures int

	bulkCalls int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indexes: map[string]map[string]json.RawMessage{},
		schemas: map[string][]byte{},
	}
}

func (m *MemoryStore) EnsureIndex(ctx context.Context, name string, schema []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failTransport(); err != nil {
		return err
	}
	if _, ok := m.indexes[name]; ok {
		return nil
	}
	m.indexes[name] = map[string]json.RawMessage{}
	m.schemas[name] = append([]byte(nil), schema...)
	return nil
}

func (m *MemoryStore) Bulk(ctx context.Context, actions []document.Action) ([]Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bulkCalls++
	if err := m.failTransport(); err != nil {
		return nil, err
	}

	var failures []Failure
	for _, a := range actions {
		if m.Reject != nil {
			if reason := m.Reject(a); reason != "" {
				failures = append(failures, Failure{Index: a.Index, ID: a.ID, Status: 400, Reason: reason})
				continue
			}
		}

		body, err := json.Marshal(a.Doc)
		if err != nil {
			failures = append(failures, Failure{Index: a.Index, ID: a.ID, Status: 400, Reason: err.Error()})
			continue
		}
		docs, ok := m.indexes[a.Index]
		if !ok {
			docs = map[string]json.RawMessage{}
			m.indexes[a.Index] = docs
		}
		docs[a.ID] = body
	}
	return failures, nil
}

func (m *MemoryStore) failTransport() error {
	if m.TransportFailures > 0 {
		m.TransportFailures--
		return transportError(fmt.Errorf("connection refused"))
	}
	return nil
}

// Document returns the stored body of id in index.
func (m *MemoryStore) Document(index, id string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.indexes[index][id]
	return doc, ok
}

// IDs returns the sorted document ids of index.
func (m *MemoryStore) IDs(index string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.indexes[index]))
	for id := range m.indexes[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Schema returns the schema an index was created with.
func (m *MemoryStore) Schema(index string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[index]
	return s, ok
}

// BulkCalls returns the number of Bulk requests received.
func (m *MemoryStore) BulkCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bulkCalls
}
