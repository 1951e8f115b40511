package main

import (
	"fmt"
	"time"

	"github.com/bluesky-social/stratos/moderation"
)

const (
	repoRefType   = "com.atproto.admin.defs#repoRef"
	strongRefType = "com.atproto.repo.strongRef"
	blobRefType   = "com.atproto.admin.defs#blobRef"
)

// same layout as atproto datetimes
const timestampFormat = "2006-01-02T15:04:05.000Z"

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

// Moderation subject as it appears in request and response bodies; a union discriminated by $type.
type SubjectRef struct {
	LexiconTypeID string `json:"$type"`
	Did           string `json:"did,omitempty"`
	Uri           string `json:"uri,omitempty"`
	Cid           string `json:"cid,omitempty"`
}

func (r *SubjectRef) Subject() (moderation.Subject, error) {
	switch r.LexiconTypeID {
	case repoRefType:
		return moderation.AccountSubject(r.Did)
	case strongRefType:
		return moderation.RecordSubject(r.Uri, r.Cid)
	case blobRefType:
		return moderation.BlobSubject(r.Cid)
	}
	return moderation.Subject{}, fmt.Errorf("%w: unsupported subject type %q", moderation.ErrInvalidSubject, r.LexiconTypeID)
}

func subjectRef(s moderation.Subject) SubjectRef {
	switch s.Type {
	case moderation.SubjectAccount:
		return SubjectRef{LexiconTypeID: repoRefType, Did: s.DID.String()}
	case moderation.SubjectRecord:
		return SubjectRef{LexiconTypeID: strongRefType, Uri: s.URI.String(), Cid: s.CID.String()}
	default:
		return SubjectRef{LexiconTypeID: blobRefType, Cid: s.CID.String()}
	}
}

type ActionReversal struct {
	Reason    string `json:"reason"`
	CreatedBy string `json:"createdBy"`
	CreatedAt string `json:"createdAt"`
}

type ActionView struct {
	Id                uint64          `json:"id"`
	Action            string          `json:"action"`
	Subject           SubjectRef      `json:"subject"`
	Reason            string          `json:"reason"`
	CreatedBy         string          `json:"createdBy"`
	CreatedAt         string          `json:"createdAt"`
	Reversal          *ActionReversal `json:"reversal,omitempty"`
	ResolvedReportIds []uint64        `json:"resolvedReportIds,omitempty"`
}

func actionView(a *moderation.Action) ActionView {
	v := ActionView{
		Id:        a.ID,
		Action:    "com.atproto.admin.defs#" + a.Kind.String(),
		Subject:   subjectRef(a.Subject),
		Reason:    a.Reason,
		CreatedBy: a.CreatedBy,
		CreatedAt: formatTime(a.CreatedAt),
	}
	if a.ReversedAt != nil {
		v.Reversal = &ActionReversal{
			Reason:    a.ReversedReason,
			CreatedBy: a.ReversedBy,
			CreatedAt: formatTime(*a.ReversedAt),
		}
	}
	return v
}

type ReportView struct {
	Id                 uint64     `json:"id"`
	ReasonType         string     `json:"reasonType"`
	Reason             *string    `json:"reason,omitempty"`
	Subject            SubjectRef `json:"subject"`
	ReportedBy         string     `json:"reportedBy"`
	CreatedAt          string     `json:"createdAt"`
	ResolvedByActionId *uint64    `json:"resolvedByActionId,omitempty"`
}

func reportView(r *moderation.Report) ReportView {
	v := ReportView{
		Id:         r.ID,
		ReasonType: string(r.ReasonType),
		Subject:    subjectRef(r.Subject),
		ReportedBy: r.ReportedBy,
		CreatedAt:  formatTime(r.CreatedAt),
	}
	if r.Reason != "" {
		reason := r.Reason
		v.Reason = &reason
	}
	if r.IsResolved() {
		id := r.ResolvedByActionID
		v.ResolvedByActionId = &id
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

type TakeModerationActionInput struct {
	Action  string     `json:"action"`
	Subject SubjectRef `json:"subject"`
	Reason  string     `json:"reason"`
}

type ReverseModerationActionInput struct {
	Id     uint64 `json:"id"`
	Reason string `json:"reason"`
}

type ResolveModerationReportsInput struct {
	ActionId  uint64   `json:"actionId"`
	ReportIds []uint64 `json:"reportIds"`
}

type CreateReportInput struct {
	ReasonType string     `json:"reasonType"`
	Reason     *string    `json:"reason,omitempty"`
	Subject    SubjectRef `json:"subject"`
}

type PutBlobOwnerInput struct {
	Cid string `json:"cid"`
	Did string `json:"did"`
}

type GetModerationActionsOutput struct {
	Cursor  *string      `json:"cursor,omitempty"`
	Actions []ActionView `json:"actions"`
}

type GetModerationReportsOutput struct {
	Cursor  *string      `json:"cursor,omitempty"`
	Reports []ReportView `json:"reports"`
}

type ResolveModerationReportsOutput struct {
	Reports []ReportView `json:"reports"`
}

type GetDirectivesOutput struct {
	Subject    SubjectRef           `json:"subject"`
	Directives *moderation.Decision `json:"directives"`
}
