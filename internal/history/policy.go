package history

import (
	"context"
	"fmt"

	"github.com/feetfirst/historyhub/internal/apperr"
)

// Delete modes accepted by NewDeletePolicy.
const (
	DeleteModeLocal  = "local"
	DeleteModeRemote = "remote"
)

// DeletePolicy decides what happens outside the aggregator when a note is
// removed from a date bucket.
type DeletePolicy interface {
	// BeforeLocalDelete runs before the note leaves local state. A non-nil
	// error keeps the note in place.
	BeforeLocalDelete(ctx context.Context, recordID string) error
	Mode() string
}

// Remover deletes a history record on the external API.
type Remover interface {
	DeleteNote(ctx context.Context, recordID string) error
}

// LocalOnly removes notes from local state only; the next fetch restores
// anything the server still has.
type LocalOnly struct{}

func (LocalOnly) BeforeLocalDelete(context.Context, string) error { return nil }

func (LocalOnly) Mode() string { return DeleteModeLocal }

// RemoteFirst deletes on the server and only then locally.
type RemoteFirst struct {
	Remover Remover
}

func (p RemoteFirst) BeforeLocalDelete(ctx context.Context, recordID string) error {
	if err := p.Remover.DeleteNote(ctx, recordID); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDeleteFailed, err)
	}
	return nil
}

func (RemoteFirst) Mode() string { return DeleteModeRemote }

// NewDeletePolicy returns the policy for mode. remover is only needed for
// DeleteModeRemote.
func NewDeletePolicy(mode string, remover Remover) (DeletePolicy, error) {
	switch mode {
	case "", DeleteModeLocal:
		return LocalOnly{}, nil
	case DeleteModeRemote:
		if remover == nil {
			return nil, fmt.Errorf("history: delete mode %q requires a remover", mode)
		}
		return RemoteFirst{Remover: remover}, nil
	default:
		return nil, fmt.Errorf("history: unknown delete mode %q", mode)
	}
}
