package ownerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/stratos/atproto/syntax"
	"github.com/bluesky-social/stratos/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OwnerStore persisted in the `blob_owners` table, next to the moderation ledger.
type DBOwnerStore struct {
	db *gorm.DB
}

var _ OwnerStore = (*DBOwnerStore)(nil)

func NewDBOwnerStore(db *gorm.DB) *DBOwnerStore {
	return &DBOwnerStore{db: db}
}

func (s *DBOwnerStore) Migrate() error {
	return s.db.AutoMigrate(&models.BlobOwner{})
}

func (s *DBOwnerStore) LookupBlobOwner(ctx context.Context, cid syntax.CID) (syntax.DID, error) {
	var row models.BlobOwner
	err := s.db.WithContext(ctx).Where("cid = ?", cid.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrOwnerNotFound, cid)
	}
	if err != nil {
		return "", fmt.Errorf("looking up blob owner: %w", err)
	}
	did, err := syntax.ParseDID(row.Did)
	if err != nil {
		return "", fmt.Errorf("stored owner of blob %s: %w", cid, err)
	}
	return did, nil
}

// Upserts: re-registering a blob replaces its owner.
func (s *DBOwnerStore) PutBlobOwner(ctx context.Context, cid syntax.CID, did syntax.DID) error {
	row := models.BlobOwner{
		Cid:       cid.String(),
		Did:       did.String(),
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cid"}},
		DoUpdates: clause.AssignmentColumns([]string{"did"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing blob owner: %w", err)
	}
	return nil
}
