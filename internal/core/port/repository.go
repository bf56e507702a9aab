package port

import (
	"context"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

type CallRepository interface {
	Save(ctx context.Context, rec domain.CallRecord) error
	List(ctx context.Context, limit int) ([]domain.CallRecord, error)
}
