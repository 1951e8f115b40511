// Package ownerstore tracks which account uploaded each blob.
//
// Blob ownership is what links a blob subject to its account for moderation purposes. It is not moderation state itself, so unlike directives it may be cached.
package ownerstore

import (
	"context"
	"errors"

	"github.com/bluesky-social/stratos/atproto/syntax"
)

var ErrOwnerNotFound = errors.New("blob owner not found")

type OwnerStore interface {
	// Returns ErrOwnerNotFound (possibly wrapped) if the blob is not known.
	LookupBlobOwner(ctx context.Context, cid syntax.CID) (syntax.DID, error)
	PutBlobOwner(ctx context.Context, cid syntax.CID, did syntax.DID) error
}
