package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tse-report-engine/internal/domain"
)

// MemoryStore keeps records in process memory. It backs the "memory"
// database driver and the service tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[domain.Kind]map[int64]domain.Cells
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	rows := make(map[domain.Kind]map[int64]domain.Cells, len(tables))
	for k := range tables {
		rows[k] = make(map[int64]domain.Cells)
	}
	return &MemoryStore{rows: rows}
}

// Add inserts a copy of the record and assigns its id.
func (m *MemoryStore) Add(_ context.Context, rec domain.Record) error {
	if _, err := tableFor(rec.Kind()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.SetRecordID(m.nextID)
	m.rows[rec.Kind()][m.nextID] = rec.Cells()
	return nil
}

// Update replaces the stored copy of the record.
func (m *MemoryStore) Update(_ context.Context, rec domain.Record) error {
	if _, err := tableFor(rec.Kind()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[rec.Kind()][rec.RecordID()]; !ok {
		return fmt.Errorf("%s %d not found: %w", rec.Kind(), rec.RecordID(), domain.ErrNotFound)
	}
	m.rows[rec.Kind()][rec.RecordID()] = rec.Cells()
	return nil
}

// Delete removes the record and every record below it.
func (m *MemoryStore) Delete(_ context.Context, rec domain.Record) error {
	if _, err := tableFor(rec.Kind()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rows[rec.Kind()], rec.RecordID())
	for k := rec.Kind() + 1; k <= domain.KindResult; k++ {
		m.deleteWhere(k, rec.Kind(), rec.RecordID())
	}
	return nil
}

// DeleteByParentID removes the records of kind below the parent and their
// own descendants.
func (m *MemoryStore) DeleteByParentID(_ context.Context, kind, parent domain.Kind, parentID int64) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	if !t.hasParent(parent) {
		return fmt.Errorf("%w: %s has no %s parent", domain.ErrInvalidKind, kind, parent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := kind; k <= domain.KindResult; k++ {
		m.deleteWhere(k, parent, parentID)
	}
	return nil
}

func (m *MemoryStore) deleteWhere(kind, parent domain.Kind, parentID int64) {
	col := parent.ParentColumn()
	want := fmt.Sprint(parentID)
	for id, cells := range m.rows[kind] {
		if cells[col].Value() == want {
			delete(m.rows[kind], id)
		}
	}
}

// GetByID loads a copy of one record.
func (m *MemoryStore) GetByID(_ context.Context, kind domain.Kind, id int64) (domain.Record, error) {
	if _, err := tableFor(kind); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cells, ok := m.rows[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %d not found: %w", kind, id, domain.ErrNotFound)
	}
	return materialise(kind, id, cells)
}

// GetByParentID lists the records of kind below the parent.
func (m *MemoryStore) GetByParentID(_ context.Context, kind, parent domain.Kind, parentID int64, order domain.Order) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if !t.hasParent(parent) {
		return nil, fmt.Errorf("%w: %s has no %s parent", domain.ErrInvalidKind, kind, parent)
	}
	col := parent.ParentColumn()
	want := fmt.Sprint(parentID)
	return m.filter(kind, order, func(c domain.Cells) bool {
		return c[col].Value() == want
	})
}

// GetByStringField lists the records of kind whose column equals value.
func (m *MemoryStore) GetByStringField(_ context.Context, kind domain.Kind, field, value string) ([]domain.Record, error) {
	if _, err := tableFor(kind); err != nil {
		return nil, err
	}
	return m.filter(kind, domain.OrderAsc, func(c domain.Cells) bool {
		return c[field].Value() == value
	})
}

// GetAll lists every record of kind.
func (m *MemoryStore) GetAll(_ context.Context, kind domain.Kind) ([]domain.Record, error) {
	if _, err := tableFor(kind); err != nil {
		return nil, err
	}
	return m.filter(kind, domain.OrderAsc, func(domain.Cells) bool { return true })
}

func (m *MemoryStore) filter(kind domain.Kind, order domain.Order, keep func(domain.Cells) bool) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.rows[kind]))
	for id, cells := range m.rows[kind] {
		if keep(cells) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if order == domain.OrderDesc {
			return ids[i] > ids[j]
		}
		return ids[i] < ids[j]
	})

	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := materialise(kind, id, m.rows[kind][id])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func materialise(kind domain.Kind, id int64, cells domain.Cells) (domain.Record, error) {
	rec, err := domain.NewRecord(kind)
	if err != nil {
		return nil, err
	}
	for col, c := range cells {
		if col == domain.ColID {
			continue
		}
		rec.Set(col, c)
	}
	rec.SetRecordID(id)
	return rec, nil
}

var _ domain.Store = (*MemoryStore)(nil)
