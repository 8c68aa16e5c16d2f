package index

import (
	"fmt"
	"sync"
)

// Manager owns every secondary index defined on one table's rows.
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

func NewManager() *Manager {
	return &Manager{indexes: make(map[string]*Index)}
}

func (m *Manager) CreateIndex(fieldName string, valueType ValueType) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.indexes[fieldName]; exists {
		return nil, fmt.Errorf("index on field %s already exists", fieldName)
	}
	idx := New(fieldName, valueType)
	m.indexes[fieldName] = idx
	return idx, nil
}

func (m *Manager) DropIndex(fieldName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.indexes[fieldName]; !exists {
		return fmt.Errorf("index on field %s does not exist", fieldName)
	}
	delete(m.indexes, fieldName)
	return nil
}

func (m *Manager) Get(fieldName string) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[fieldName]
	return idx, ok
}

// IndexRow inserts rowID into every index whose field is present in
// fields, called once per row write after the row has been applied to
// the LSM engine.
func (m *Manager) IndexRow(rowID string, fields map[string]Value) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for fieldName, idx := range m.indexes {
		if value, ok := fields[fieldName]; ok {
			_ = idx.Insert(rowID, value)
		}
	}
}

// UnindexRow removes rowID from every index whose field is present in
// fields, called before a row is deleted or overwritten.
func (m *Manager) UnindexRow(rowID string, fields map[string]Value) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for fieldName, idx := range m.indexes {
		if value, ok := fields[fieldName]; ok {
			_ = idx.Remove(rowID, value)
		}
	}
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	return names
}
