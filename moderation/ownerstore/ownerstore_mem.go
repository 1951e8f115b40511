package ownerstore

import (
	"context"
	"fmt"

	"github.com/bluesky-social/stratos/atproto/syntax"

	"github.com/puzpuzpuz/xsync/v3"
)

// In-process OwnerStore, for tests and development.
type MemOwnerStore struct {
	owners *xsync.MapOf[syntax.CID, syntax.DID]
}

var _ OwnerStore = (*MemOwnerStore)(nil)

func NewMemOwnerStore() *MemOwnerStore {
	return &MemOwnerStore{
		owners: xsync.NewMapOf[syntax.CID, syntax.DID](),
	}
}

func (s *MemOwnerStore) LookupBlobOwner(ctx context.Context, cid syntax.CID) (syntax.DID, error) {
	did, ok := s.owners.Load(cid)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOwnerNotFound, cid)
	}
	return did, nil
}

func (s *MemOwnerStore) PutBlobOwner(ctx context.Context, cid syntax.CID, did syntax.DID) error {
	s.owners.Store(cid, did)
	return nil
}
