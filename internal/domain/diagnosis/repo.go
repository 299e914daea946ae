package diagnosis

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("diagnosis not found")

// Store persists diagnosis records. Implementations are injected into the
// Service.
type Store interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, id uuid.UUID, p Patch) (*Record, error)
	List(ctx context.Context, limit, offset int) ([]*Record, int, error)
}
