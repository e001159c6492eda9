// Package storage persists finalized verification results keyed by the
// lowercased address. Upserts overwrite, so reprocessing an address is
// idempotent.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/optimode/deliverkit/internal/metrics"
	"github.com/optimode/deliverkit/types"
)

var (
	// ErrNotFound is returned by Get when no result is stored for the address.
	ErrNotFound = errors.New("storage: result not found")
	// ErrUnknownKind is returned when a configured store kind has no
	// implementation.
	ErrUnknownKind = errors.New("storage: unknown kind")
)

// Store is a result sink with point lookups.
type Store interface {
	Upsert(ctx context.Context, res types.VerificationResult) error
	Get(ctx context.Context, address string) (types.VerificationResult, error)
}

// Key returns the storage key of an address.
func Key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Observed counts upsert outcomes of the wrapped store.
func Observed(s Store) Store {
	return observed{s}
}

type observed struct{ Store }

func (o observed) Upsert(ctx context.Context, res types.VerificationResult) error {
	err := o.Store.Upsert(ctx, res)
	metrics.ObserveStore(err)
	return err
}
