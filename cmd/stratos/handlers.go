package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bluesky-social/stratos/atproto/syntax"
	"github.com/bluesky-social/stratos/moderation"

	"github.com/labstack/echo/v4"
)

// header set by the upstream session verifier; trusted as-is
const actingDidHeader = "X-Acting-Did"

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("stratos-http-internal-error", "err", err)
	}
	c.JSON(code, GenericError{Error: http.StatusText(code), Message: errorMessage})
}

// Translates ledger and engine errors into XRPC error responses.
func (srv *Server) xrpcError(c echo.Context, err error) error {
	var code int
	var name string
	switch {
	case errors.Is(err, moderation.ErrInvalidSubject):
		code, name = http.StatusBadRequest, "InvalidSubject"
	case errors.Is(err, moderation.ErrInvalidKind), errors.Is(err, moderation.ErrInvalidReasonType), errors.Is(err, moderation.ErrInvalidRequest):
		code, name = http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, moderation.ErrNotFound):
		code, name = http.StatusNotFound, "NotFound"
	case errors.Is(err, moderation.ErrSubjectHasAction):
		code, name = http.StatusConflict, "SubjectHasAction"
	case errors.Is(err, moderation.ErrAlreadyReversed):
		code, name = http.StatusConflict, "AlreadyReversed"
	case errors.Is(err, moderation.ErrAlreadyResolved):
		code, name = http.StatusConflict, "AlreadyResolved"
	case errors.Is(err, moderation.ErrUnresolved):
		code, name = http.StatusServiceUnavailable, "Unresolved"
	default:
		srv.logger.Error("moderation request failed", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "InternalError",
			Message: "internal server error",
		})
	}
	return c.JSON(code, GenericError{Error: name, Message: err.Error()})
}

func badRequest(c echo.Context, format string, args ...any) error {
	return c.JSON(http.StatusBadRequest, GenericError{
		Error:   "InvalidRequest",
		Message: fmt.Sprintf(format, args...),
	})
}

// Returns the acting identity, or writes an error response and returns ok=false.
func actingDID(c echo.Context) (syntax.DID, bool, error) {
	raw := c.Request().Header.Get(actingDidHeader)
	if raw == "" {
		return "", false, c.JSON(http.StatusUnauthorized, GenericError{
			Error:   "Unauthorized",
			Message: "missing acting identity",
		})
	}
	did, err := syntax.ParseDID(raw)
	if err != nil {
		return "", false, badRequest(c, "acting identity: %s", err)
	}
	return did, true, nil
}

// Query-string subjects: subject=did:..., subject=at://...&cid=..., or subject=<cid>.
func querySubject(c echo.Context) (moderation.Subject, error) {
	return moderation.ParseSubject("", c.QueryParam("subject"), c.QueryParam("cid"))
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id: %q", raw)
	}
	return id, nil
}

func parsePage(c echo.Context) (cursor uint64, limit int, err error) {
	if raw := c.QueryParam("cursor"); raw != "" {
		cursor, err = parseID(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("cursor: %w", err)
		}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			return 0, 0, fmt.Errorf("limit must be between 1 and 100")
		}
	}
	return cursor, limit, nil
}

func cursorString(cursor uint64) *string {
	if cursor == 0 {
		return nil
	}
	s := strconv.FormatUint(cursor, 10)
	return &s
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	sqldb, err := srv.db.DB()
	if err == nil {
		err = sqldb.PingContext(c.Request().Context())
	}
	if err != nil {
		srv.logger.Error("health check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "stratos", Message: "database not reachable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "stratos"})
}

func (srv *Server) HandleTakeModerationAction(c echo.Context) error {
	ctx := c.Request().Context()

	actor, ok, err := actingDID(c)
	if !ok {
		return err
	}
	var body TakeModerationActionInput
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid body: %s", err)
	}
	subj, err := body.Subject.Subject()
	if err != nil {
		return srv.xrpcError(c, err)
	}
	kind, err := moderation.ParseActionKind(body.Action)
	if err != nil {
		return srv.xrpcError(c, err)
	}

	act, err := srv.ledger.TakeAction(ctx, kind, subj, body.Reason, actor.String())
	if err != nil {
		return srv.xrpcError(c, err)
	}
	return c.JSON(http.StatusOK, actionView(act))
}

func (srv *Server) HandleReverseModerationAction(c echo.Context) error {
	ctx := c.Request().Context()

	actor, ok, err := actingDID(c)
	if !ok {
		return err
	}
	var body ReverseModerationActionInput
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid body: %s", err)
	}
	if body.Id == 0 {
		return badRequest(c, "action id is required")
	}

	act, err := srv.ledger.ReverseAction(ctx, body.Id, actor.String(), body.Reason)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	return c.JSON(http.StatusOK, actionView(act))
}

func (srv *Server) HandleGetModerationAction(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c.QueryParam("id"))
	if err != nil {
		return badRequest(c, "%s", err)
	}
	act, err := srv.ledger.GetAction(ctx, id)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	resolved, err := srv.ledger.ResolvingReports(ctx, id)
	if err != nil {
		return srv.xrpcError(c, err)
	}

	view := actionView(act)
	for _, r := range resolved {
		view.ResolvedReportIds = append(view.ResolvedReportIds, r.ID)
	}
	return c.JSON(http.StatusOK, view)
}

func (srv *Server) HandleGetModerationActions(c echo.Context) error {
	ctx := c.Request().Context()

	cursor, limit, err := parsePage(c)
	if err != nil {
		return badRequest(c, "%s", err)
	}
	q := moderation.ActionQuery{Cursor: cursor, Limit: limit}
	if c.QueryParam("subject") != "" {
		subj, err := querySubject(c)
		if err != nil {
			return srv.xrpcError(c, err)
		}
		q.Subject = &subj
	}

	actions, next, err := srv.ledger.ListActions(ctx, q)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	out := GetModerationActionsOutput{
		Cursor:  cursorString(next),
		Actions: make([]ActionView, 0, len(actions)),
	}
	for i := range actions {
		out.Actions = append(out.Actions, actionView(&actions[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleCreateReport(c echo.Context) error {
	ctx := c.Request().Context()

	actor, ok, err := actingDID(c)
	if !ok {
		return err
	}
	if srv.reportLimiter != nil && !srv.reportLimiter.Allow() {
		reportsRateLimited.Inc()
		return c.JSON(http.StatusTooManyRequests, GenericError{
			Error:   "RateLimitExceeded",
			Message: "too many reports, try again later",
		})
	}
	var body CreateReportInput
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid body: %s", err)
	}
	subj, err := body.Subject.Subject()
	if err != nil {
		return srv.xrpcError(c, err)
	}
	var reason string
	if body.Reason != nil {
		reason = *body.Reason
	}

	report, err := srv.ledger.CreateReport(ctx, moderation.ReasonType(body.ReasonType), subj, reason, actor.String())
	if err != nil {
		return srv.xrpcError(c, err)
	}
	return c.JSON(http.StatusOK, reportView(report))
}

func (srv *Server) HandleResolveModerationReports(c echo.Context) error {
	ctx := c.Request().Context()

	actor, ok, err := actingDID(c)
	if !ok {
		return err
	}
	var body ResolveModerationReportsInput
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid body: %s", err)
	}
	if body.ActionId == 0 {
		return badRequest(c, "action id is required")
	}

	reports, err := srv.ledger.ResolveReports(ctx, body.ActionId, body.ReportIds, actor.String())
	if err != nil {
		return srv.xrpcError(c, err)
	}
	out := ResolveModerationReportsOutput{Reports: make([]ReportView, 0, len(reports))}
	for i := range reports {
		out.Reports = append(out.Reports, reportView(&reports[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleGetModerationReport(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c.QueryParam("id"))
	if err != nil {
		return badRequest(c, "%s", err)
	}
	report, err := srv.ledger.GetReport(ctx, id)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	return c.JSON(http.StatusOK, reportView(report))
}

// With a subject and resolved=false (and no paging), returns every open report on the subject, oldest first. Otherwise pages through reports newest first.
func (srv *Server) HandleGetModerationReports(c echo.Context) error {
	ctx := c.Request().Context()

	cursor, limit, err := parsePage(c)
	if err != nil {
		return badRequest(c, "%s", err)
	}
	q := moderation.ReportQuery{Cursor: cursor, Limit: limit}
	if raw := c.QueryParam("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "resolved must be a boolean")
		}
		q.Resolved = &resolved
	}
	if c.QueryParam("subject") != "" {
		subj, err := querySubject(c)
		if err != nil {
			return srv.xrpcError(c, err)
		}
		q.Subject = &subj
	}

	var reports []moderation.Report
	var next uint64
	if q.Subject != nil && q.Resolved != nil && !*q.Resolved && cursor == 0 && limit == 0 {
		reports, err = srv.ledger.ListOpenReports(ctx, *q.Subject)
	} else {
		reports, next, err = srv.ledger.QueryReports(ctx, q)
	}
	if err != nil {
		return srv.xrpcError(c, err)
	}

	out := GetModerationReportsOutput{
		Cursor:  cursorString(next),
		Reports: make([]ReportView, 0, len(reports)),
	}
	for i := range reports {
		out.Reports = append(out.Reports, reportView(&reports[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleGetDirectives(c echo.Context) error {
	ctx := c.Request().Context()

	subj, err := querySubject(c)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	var entities []moderation.Entity
	for _, raw := range c.QueryParams()["entity"] {
		ent, err := moderation.ParseEntity(raw)
		if err != nil {
			return badRequest(c, "%s", err)
		}
		entities = append(entities, ent)
	}

	dec, err := srv.engine.ResolveDirectives(ctx, subj, entities...)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	return c.JSON(http.StatusOK, GetDirectivesOutput{
		Subject:    subjectRef(subj),
		Directives: dec,
	})
}

// Registers which account uploaded a blob, so that account-level actions cascade to it.
func (srv *Server) HandlePutBlobOwner(c echo.Context) error {
	ctx := c.Request().Context()

	if _, ok, err := actingDID(c); !ok {
		return err
	}
	var body PutBlobOwnerInput
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid body: %s", err)
	}
	blob, err := moderation.BlobSubject(body.Cid)
	if err != nil {
		return srv.xrpcError(c, err)
	}
	owner, err := moderation.AccountSubject(body.Did)
	if err != nil {
		return srv.xrpcError(c, err)
	}

	if err := srv.owners.PutBlobOwner(ctx, blob.CID, owner.DID); err != nil {
		return srv.xrpcError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{})
}
