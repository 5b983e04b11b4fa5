package repository

import (
	"context"
	"time"

	"capsule-vault/internal/domain/capsule"
)

type CapsuleRepository interface {
	// Create persists the capsule and one download record per recipient in a
	// single transaction. c.Records must be populated by the caller.
	Create(ctx context.Context, c *capsule.Capsule) error

	// GetByID returns the capsule with its download records preloaded.
	GetByID(ctx context.Context, id string) (capsule.Capsule, error)

	// ListForUser returns every capsule the user is a recipient of,
	// newest upload first.
	ListForUser(ctx context.Context, userID string) ([]capsule.Capsule, error)

	// RecordDownload marks the (capsule, user) record downloaded, once.
	// It reports true exactly when this call consumed the last pending
	// recipient; a repeat call for the same pair reports false.
	RecordDownload(ctx context.Context, capsuleID, userID string) (shouldDelete bool, err error)

	// Delete removes the capsule and cascades to its download records.
	Delete(ctx context.Context, id string) error

	// ListExpired returns capsules whose expiry time is before the cutoff.
	ListExpired(ctx context.Context, before time.Time) ([]capsule.Capsule, error)
}
