// Package offers holds in-flight negotiation offers keyed by washer and wash.
// All offers of one washer share a single expiry that is pushed forward on
// every write.
package offers

import (
	"context"

	"github.com/example/wash-hup/internal/models"
)

type Store interface {
	// Put overwrites the offer for (o.WasherID, o.WashID).
	Put(ctx context.Context, o models.Offer) error
	Get(ctx context.Context, washerID, washID string) (*models.Offer, error)
	GetAll(ctx context.Context, washerID string) ([]models.Offer, error)
	// Update applies fn atomically with respect to other writers of the same
	// offer. An error from fn aborts without writing.
	Update(ctx context.Context, washerID, washID string, fn func(*models.Offer) error) (*models.Offer, error)
	// Remove deletes the offer and reports whether this call removed it.
	Remove(ctx context.Context, washerID, washID string) (bool, error)
}

func key(washerID string) string { return "offers:" + washerID }
