package moderation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bluesky-social/stratos/moderation/ownerstore"
)

// Enumerates the subjects whose active actions also apply to a given subject.
type Hierarchy interface {
	// Ancestors ordered innermost-first. Lookup failures degrade to fewer ancestors; this never errors.
	AncestorsOf(ctx context.Context, subj Subject) []Subject
}

// The containment relation between subject types: a record belongs to the account in its URI authority, and a blob belongs to the account that uploaded it. Accounts have no ancestors.
type SubjectHierarchy struct {
	// optional; without it blobs have no ancestors
	Owners ownerstore.OwnerStore
	Logger *slog.Logger
}

var _ Hierarchy = (*SubjectHierarchy)(nil)

func (h *SubjectHierarchy) AncestorsOf(ctx context.Context, subj Subject) []Subject {
	switch subj.Type {
	case SubjectRecord:
		return []Subject{{Type: SubjectAccount, DID: subj.URI.Authority()}}
	case SubjectBlob:
		if h.Owners == nil {
			return nil
		}
		owner, err := h.Owners.LookupBlobOwner(ctx, subj.CID)
		if err != nil {
			logger := h.Logger
			if logger == nil {
				logger = slog.Default()
			}
			if errors.Is(err, ownerstore.ErrOwnerNotFound) {
				logger.Debug("blob has no known owner", "cid", subj.CID)
			} else {
				logger.Warn("blob owner lookup failed", "cid", subj.CID, "err", err)
			}
			return nil
		}
		return []Subject{{Type: SubjectAccount, DID: owner}}
	}
	return nil
}
