package moderation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bluesky-social/stratos/models"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type Report struct {
	ID         uint64
	ReasonType ReasonType
	Subject    Subject
	Reason     string
	ReportedBy string
	CreatedAt  time.Time

	// zero while the report is open
	ResolvedByActionID uint64
}

func (r *Report) IsResolved() bool {
	return r.ResolvedByActionID != 0
}

func reportFromRow(row *models.ModerationReport) (*Report, error) {
	subj, err := subjectFromColumns(row.SubjectType, row.SubjectDid, row.SubjectUri, row.SubjectCid)
	if err != nil {
		return nil, fmt.Errorf("report %d: %w", row.ID, err)
	}
	r := &Report{
		ID:         row.ID,
		ReasonType: ReasonType(row.ReasonType),
		Subject:    subj,
		ReportedBy: row.ReportedBy,
		CreatedAt:  row.CreatedAt,
	}
	if row.Reason != nil {
		r.Reason = *row.Reason
	}
	if row.ResolvedByActionID != nil {
		r.ResolvedByActionID = *row.ResolvedByActionID
	}
	return r, nil
}

func reportsFromRows(rows []models.ModerationReport) ([]Report, error) {
	out := make([]Report, 0, len(rows))
	for i := range rows {
		r, err := reportFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Files a new, open report. Reports are not de-duplicated: the same reporter may file against the same subject repeatedly.
func (l *Ledger) CreateReport(ctx context.Context, reasonType ReasonType, subj Subject, reason, reportedBy string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "CreateReport")
	defer span.End()
	span.SetAttributes(attribute.String("reasonType", string(reasonType)), attribute.String("subject", subj.String()))

	if err := subj.Validate(); err != nil {
		return nil, err
	}
	subj = subj.normalize()
	rt, err := ParseReasonType(string(reasonType))
	if err != nil {
		return nil, err
	}
	if reportedBy == "" {
		return nil, fmt.Errorf("%w: reporter identity is required", ErrInvalidRequest)
	}

	cols := subj.columns()
	row := models.ModerationReport{
		SubjectType: cols.Type,
		SubjectKey:  cols.Key,
		SubjectDid:  cols.Did,
		SubjectUri:  cols.Uri,
		SubjectCid:  cols.Cid,
		ReasonType:  string(rt),
		Reason:      nullString(reason),
		ReportedBy:  reportedBy,
		CreatedAt:   l.now(),
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persisting moderation report: %w", err)
	}

	reportsCreated.WithLabelValues(string(rt), cols.Type).Inc()
	l.logger.Info("moderation report created", "id", row.ID, "reasonType", rt, "subject", subj.Key(), "reportedBy", reportedBy)
	return reportFromRow(&row)
}

// Links every listed report to the action. Either all of the reports become resolved, or none do: if any report is unknown the result is ErrNotFound, and if any was already resolved the result is ErrAlreadyResolved.
//
// The action may have been reversed; resolution is an audit link, not a directive.
func (l *Ledger) ResolveReports(ctx context.Context, actionID uint64, reportIDs []uint64, createdBy string) ([]Report, error) {
	ctx, span := tracer.Start(ctx, "ResolveReports")
	defer span.End()
	span.SetAttributes(attribute.Int64("actionId", int64(actionID)), attribute.Int("reports", len(reportIDs)))

	if createdBy == "" {
		return nil, fmt.Errorf("%w: acting identity is required", ErrInvalidRequest)
	}

	ids := slices.Clone(reportIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	now := l.now()
	var rows []models.ModerationReport
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var action models.ModerationAction
		if err := tx.Select("id").First(&action, actionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("moderation action %d: %w", actionID, ErrNotFound)
			}
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&models.ModerationReport{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
			return err
		}
		if count != int64(len(ids)) {
			return fmt.Errorf("%d of %d moderation reports: %w", int64(len(ids))-count, len(ids), ErrNotFound)
		}

		res := tx.Model(&models.ModerationReport{}).
			Where("id IN ? AND resolved_by_action_id IS NULL", ids).
			Update("resolved_by_action_id", actionID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			// returning an error rolls back the partial update
			return fmt.Errorf("%d of %d moderation reports: %w", int64(len(ids))-res.RowsAffected, len(ids), ErrAlreadyResolved)
		}

		audit := make([]models.ModerationReportResolution, 0, len(ids))
		for _, id := range ids {
			audit = append(audit, models.ModerationReportResolution{
				ReportID:  id,
				ActionID:  actionID,
				CreatedAt: now,
				CreatedBy: createdBy,
			})
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			ledgerConflicts.WithLabelValues("resolve").Inc()
		}
		span.RecordError(err)
		return nil, err
	}

	reportsResolved.Add(float64(len(rows)))
	if len(rows) > 0 {
		l.logger.Info("moderation reports resolved", "actionId", actionID, "reports", ids, "createdBy", createdBy)
	}
	return reportsFromRows(rows)
}

func (l *Ledger) GetReport(ctx context.Context, id uint64) (*Report, error) {
	var row models.ModerationReport
	if err := l.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("moderation report %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return reportFromRow(&row)
}

// Open reports against exactly this subject, oldest first.
func (l *Ledger) ListOpenReports(ctx context.Context, subj Subject) ([]Report, error) {
	var rows []models.ModerationReport
	err := l.db.WithContext(ctx).
		Where("subject_key = ? AND resolved_by_action_id IS NULL", subj.normalize().Key()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing open moderation reports: %w", err)
	}
	return reportsFromRows(rows)
}

type ReportQuery struct {
	Subject *Subject
	// nil for both open and resolved
	Resolved *bool
	Cursor   uint64
	Limit    int
}

// Newest first, paginated by ID the same way as ListActions.
func (l *Ledger) QueryReports(ctx context.Context, q ReportQuery) ([]Report, uint64, error) {
	limit := clampLimit(q.Limit)
	query := l.db.WithContext(ctx).Limit(limit).Order("id DESC")
	if q.Cursor > 0 {
		query = query.Where("id < ?", q.Cursor)
	}
	if q.Subject != nil {
		query = query.Where("subject_key = ?", q.Subject.normalize().Key())
	}
	if q.Resolved != nil {
		if *q.Resolved {
			query = query.Where("resolved_by_action_id IS NOT NULL")
		} else {
			query = query.Where("resolved_by_action_id IS NULL")
		}
	}

	var rows []models.ModerationReport
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("querying moderation reports: %w", err)
	}
	out, err := reportsFromRows(rows)
	if err != nil {
		return nil, 0, err
	}
	var cursor uint64
	if len(rows) == limit {
		cursor = rows[len(rows)-1].ID
	}
	return out, cursor, nil
}

// Reports which were resolved by the given action, in ID order.
func (l *Ledger) ResolvingReports(ctx context.Context, actionID uint64) ([]Report, error) {
	var rows []models.ModerationReport
	err := l.db.WithContext(ctx).
		Where("resolved_by_action_id = ?", actionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing resolved moderation reports: %w", err)
	}
	return reportsFromRows(rows)
}
