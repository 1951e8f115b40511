package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/stratos/models"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type ActionStatus string

const (
	StatusActive   ActionStatus = "active"
	StatusReversed ActionStatus = "reversed"
)

type Action struct {
	ID        uint64
	Kind      ActionKind
	Subject   Subject
	Reason    string
	CreatedBy string
	CreatedAt time.Time

	// only set once reversed
	ReversedBy     string
	ReversedAt     *time.Time
	ReversedReason string
}

func (a *Action) Status() ActionStatus {
	if a.ReversedAt != nil {
		return StatusReversed
	}
	return StatusActive
}

func (a *Action) IsActive() bool {
	return a.Status() == StatusActive
}

// Append-mostly store of moderation actions and reports, backed by gorm.
//
// Every mutation runs in its own transaction, and state transitions are conditional updates, so the invariants (single reversal, single resolution, all-or-nothing multi-report resolution) hold under concurrent callers without any in-process locking.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger

	// overridable in tests
	now func() time.Time
}

func NewLedger(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:     db,
		logger: logger.With("component", "moderation-ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Creates or updates the ledger tables.
func (l *Ledger) Migrate() error {
	return l.db.AutoMigrate(
		&models.ModerationAction{},
		&models.ModerationReport{},
		&models.ModerationReportResolution{},
	)
}

func actionFromRow(row *models.ModerationAction) (*Action, error) {
	subj, err := subjectFromColumns(row.SubjectType, row.SubjectDid, row.SubjectUri, row.SubjectCid)
	if err != nil {
		return nil, fmt.Errorf("action %d: %w", row.ID, err)
	}
	a := &Action{
		ID:         row.ID,
		Kind:       ActionKind(row.Action),
		Subject:    subj,
		Reason:     row.Reason,
		CreatedBy:  row.CreatedBy,
		CreatedAt:  row.CreatedAt,
		ReversedAt: row.ReversedAt,
	}
	if row.ReversedBy != nil {
		a.ReversedBy = *row.ReversedBy
	}
	if row.ReversedReason != nil {
		a.ReversedReason = *row.ReversedReason
	}
	return a, nil
}

// Records a new, active moderation action against the subject.
func (l *Ledger) TakeAction(ctx context.Context, kind ActionKind, subj Subject, reason, createdBy string) (*Action, error) {
	ctx, span := tracer.Start(ctx, "TakeAction")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind.String()), attribute.String("subject", subj.String()))

	if err := subj.Validate(); err != nil {
		return nil, err
	}
	subj = subj.normalize()
	if !kind.IsKnown() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: action reason is required", ErrInvalidRequest)
	}
	if createdBy == "" {
		return nil, fmt.Errorf("%w: acting identity is required", ErrInvalidRequest)
	}

	cols := subj.columns()
	row := models.ModerationAction{
		Action:      kind.String(),
		SubjectType: cols.Type,
		SubjectKey:  cols.Key,
		SubjectDid:  cols.Did,
		SubjectUri:  cols.Uri,
		SubjectCid:  cols.Cid,
		Reason:      reason,
		CreatedAt:   l.now(),
		CreatedBy:   createdBy,
	}
	if kind.IsExclusive() {
		k := kind.String()
		row.ExclusiveKind = &k
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if row.ExclusiveKind != nil {
			var existing []models.ModerationAction
			err := tx.Select("id").
				Where("subject_key = ? AND exclusive_kind = ? AND reversed_at IS NULL", row.SubjectKey, *row.ExclusiveKind).
				Limit(1).
				Find(&existing).Error
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return fmt.Errorf("%w: %s action %d on %s", ErrSubjectHasAction, kind, existing[0].ID, row.SubjectKey)
			}
		}
		return insertAction(tx, &row)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSubjectHasAction) {
			ledgerConflicts.WithLabelValues("take").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("persisting moderation action: %w", err)
	}

	actionsTaken.WithLabelValues(kind.String(), cols.Type).Inc()
	l.logger.Info("moderation action taken", "id", row.ID, "kind", kind, "subject", subj.Key(), "createdBy", createdBy)
	return actionFromRow(&row)
}

// A concurrent insert can still get past the active-action check in another transaction; the partial unique index on (subject_key, exclusive_kind) rejects it here.
func insertAction(tx *gorm.DB, row *models.ModerationAction) error {
	if err := tx.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s on %s", ErrSubjectHasAction, row.Action, row.SubjectKey)
		}
		return err
	}
	return nil
}

// Marks an active action as reversed. Reversal is terminal: a second call returns ErrAlreadyReversed and leaves the first reversal untouched.
func (l *Ledger) ReverseAction(ctx context.Context, id uint64, reversedBy, reason string) (*Action, error) {
	ctx, span := tracer.Start(ctx, "ReverseAction")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", int64(id)))

	if reversedBy == "" {
		return nil, fmt.Errorf("%w: acting identity is required", ErrInvalidRequest)
	}

	now := l.now()
	var row models.ModerationAction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// compare-and-set: only an active row can be reversed
		res := tx.Model(&models.ModerationAction{}).
			Where("id = ? AND reversed_at IS NULL", id).
			Updates(map[string]any{
				"reversed_at":     now,
				"reversed_by":     reversedBy,
				"reversed_reason": nullString(reason),
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("moderation action %d: %w", id, ErrNotFound)
			}
			return err
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("moderation action %d: %w", id, ErrAlreadyReversed)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyReversed) {
			ledgerConflicts.WithLabelValues("reverse").Inc()
		}
		span.RecordError(err)
		return nil, err
	}

	actionsReversed.WithLabelValues(row.Action).Inc()
	l.logger.Info("moderation action reversed", "id", id, "kind", row.Action, "subject", row.SubjectKey, "reversedBy", reversedBy)
	return actionFromRow(&row)
}

func (l *Ledger) GetAction(ctx context.Context, id uint64) (*Action, error) {
	var row models.ModerationAction
	if err := l.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("moderation action %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return actionFromRow(&row)
}

// Returns every active action whose subject is exactly one of the given subjects, oldest first (ties broken by id).
//
// This is a single query, so the result is a consistent snapshot of the ledger.
func (l *Ledger) ListActiveActionsForSubjects(ctx context.Context, subjects []Subject) ([]Action, error) {
	ctx, span := tracer.Start(ctx, "ListActiveActionsForSubjects")
	defer span.End()
	span.SetAttributes(attribute.Int("subjects", len(subjects)))

	if len(subjects) == 0 {
		return []Action{}, nil
	}
	keys := make([]string, 0, len(subjects))
	for _, s := range subjects {
		keys = append(keys, s.normalize().Key())
	}

	var rows []models.ModerationAction
	err := l.db.WithContext(ctx).
		Where("subject_key IN ? AND reversed_at IS NULL", keys).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing active moderation actions: %w", err)
	}
	return actionsFromRows(rows)
}

func actionsFromRows(rows []models.ModerationAction) ([]Action, error) {
	out := make([]Action, 0, len(rows))
	for i := range rows {
		a, err := actionFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

type ActionQuery struct {
	// optional; all subjects when nil
	Subject *Subject
	// only return actions with ID lower than this (paging backwards); zero to start from newest
	Cursor uint64
	Limit  int
}

// Full action history (active and reversed), newest first. The returned cursor is non-zero when another page may exist.
func (l *Ledger) ListActions(ctx context.Context, q ActionQuery) ([]Action, uint64, error) {
	limit := clampLimit(q.Limit)
	query := l.db.WithContext(ctx).Limit(limit).Order("id DESC")
	if q.Cursor > 0 {
		query = query.Where("id < ?", q.Cursor)
	}
	if q.Subject != nil {
		query = query.Where("subject_key = ?", q.Subject.normalize().Key())
	}

	var rows []models.ModerationAction
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("listing moderation actions: %w", err)
	}
	out, err := actionsFromRows(rows)
	if err != nil {
		return nil, 0, err
	}
	var cursor uint64
	if len(rows) == limit {
		cursor = rows[len(rows)-1].ID
	}
	return out, cursor, nil
}

// Empty optional text is stored as NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
