package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

const defaultCapacity = 500

// CallRepository keeps the most recent call records in memory. Older
// records are dropped once capacity is reached.
type CallRepository struct {
	mu       sync.Mutex
	records  []domain.CallRecord
	capacity int
}

func NewCallRepository(capacity int) *CallRepository {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &CallRepository{
		records:  make([]domain.CallRecord, 0),
		capacity: capacity,
	}
}

func (r *CallRepository) Save(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if over := len(r.records) - r.capacity; over > 0 {
		r.records = append(r.records[:0:0], r.records[over:]...)
	}
	return nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (r *CallRepository) List(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.CallRecord, 0, n)
	for i := len(r.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}
