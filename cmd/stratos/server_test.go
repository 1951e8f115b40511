package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bluesky-social/stratos/moderation/ownerstore"
	"github.com/bluesky-social/stratos/util/cliutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	testPassword = "hunter2"
	operatorDID  = "did:plc:operator12345678901234"
	reporterDID  = "did:plc:reporter1234567890123"
	aliceDID     = "did:example:alice"

	recordCID = "bafyreie5cvv4h45feadgeuwhbcutmh6t2ceseocckahdoe6uat64zmz454"
	blobCID   = "bafkreiccldh766hwcnuxnf2wh6jgzepf2nlu2lvcllt63eww5p6chi4ity"
)

func testServer(t *testing.T) *Server {
	require := require.New(t)

	// one connection: each connection to ":memory:" is its own database
	db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(err)
	sqldb, err := db.DB()
	require.NoError(err)
	t.Cleanup(func() { sqldb.Close() })
	require.NoError(migrate(db))

	srv, err := NewServer(db, ownerstore.NewDBOwnerStore(db), Config{
		AdminPassword:     testPassword,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	require.NoError(err)
	return srv
}

// Sends an authenticated request and decodes the JSON response into out (if non-nil).
func doRequest(t *testing.T, srv *Server, method, path, actor, body string, out any) int {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.SetBasicAuth("admin", testPassword)
	if actor != "" {
		req.Header.Set(actingDidHeader, actor)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHealthCheck(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/_health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(http.StatusOK, rec.Code)

	var status GenericStatus
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal("ok", status.Status)
}

func TestAdminAuth(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	path := "/xrpc/app.stratos.getDirectives?subject=" + aliceDID

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	assert.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, path, "", "", nil))

	// mutations also need an acting identity
	var xerr GenericError
	code := doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", "",
		`{"action": "takedown", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "`+aliceDID+`"}, "reason": "spam"}`, &xerr)
	assert.Equal(http.StatusUnauthorized, code)
	assert.Equal("Unauthorized", xerr.Error)
}

func TestTakedownLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t)

	directivesPath := "/xrpc/app.stratos.getDirectives?subject=" + aliceDID

	var before GetDirectivesOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, directivesPath, "", "", &before))
	require.NotNil(before.Directives)
	assert.True(before.Directives.IsEmpty())

	var act ActionView
	code := doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", operatorDID,
		`{"action": "com.atproto.admin.defs#takedown", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "`+aliceDID+`"}, "reason": "spam"}`, &act)
	require.Equal(http.StatusOK, code)
	assert.NotZero(act.Id)
	assert.Equal("com.atproto.admin.defs#takedown", act.Action)
	assert.Equal(operatorDID, act.CreatedBy)
	assert.Nil(act.Reversal)

	var dup GenericError
	code = doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", operatorDID,
		`{"action": "takedown", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "`+aliceDID+`"}, "reason": "again"}`, &dup)
	assert.Equal(http.StatusConflict, code)
	assert.Equal("SubjectHasAction", dup.Error)

	var after GetDirectivesOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, directivesPath, "", "", &after))
	require.NotNil(after.Directives.Account)
	assert.True(after.Directives.Account.Filter)
	assert.True(after.Directives.Account.NoOverride)
	require.NotNil(after.Directives.Avatar)
	assert.True(after.Directives.Avatar.Blur)
	assert.Equal([]uint64{act.Id}, after.Directives.ActionIDs)

	// only the avatar was asked for
	var avatarOnly GetDirectivesOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, directivesPath+"&entity=avatar", "", "", &avatarOnly))
	assert.Nil(avatarOnly.Directives.Account)
	assert.NotNil(avatarOnly.Directives.Avatar)

	body := `{"id": ` + jsonNumber(act.Id) + `, "reason": "appeal"}`
	var reversed ActionView
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.reverseModerationAction", operatorDID, body, &reversed))
	require.NotNil(reversed.Reversal)
	assert.Equal("appeal", reversed.Reversal.Reason)

	var xerr GenericError
	assert.Equal(http.StatusConflict, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.reverseModerationAction", operatorDID, body, &xerr))
	assert.Equal("AlreadyReversed", xerr.Error)

	var final GetDirectivesOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, directivesPath, "", "", &final))
	assert.True(final.Directives.IsEmpty())

	var list GetModerationActionsOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/com.atproto.admin.getModerationActions?subject="+aliceDID, "", "", &list))
	require.Len(list.Actions, 1)
	assert.NotNil(list.Actions[0].Reversal)
	assert.Nil(list.Cursor)
}

func TestReportFlow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t)

	postURI := "at://" + aliceDID + "/app.bsky.feed.post/3k2abc"
	subject := `{"$type": "com.atproto.repo.strongRef", "uri": "` + postURI + `", "cid": "` + recordCID + `"}`

	var r1, r2 ReportView
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.moderation.createReport", reporterDID,
		`{"reasonType": "com.atproto.moderation.defs#reasonSpam", "reason": "bot", "subject": `+subject+`}`, &r1))
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.moderation.createReport", reporterDID,
		`{"reasonType": "reasonRude", "subject": `+subject+`}`, &r2))
	assert.Equal(reporterDID, r1.ReportedBy)
	require.NotNil(r1.Reason)
	assert.Equal("bot", *r1.Reason)
	assert.Nil(r2.Reason)
	assert.Equal("com.atproto.moderation.defs#reasonRude", r2.ReasonType)

	var open GetModerationReportsOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/com.atproto.admin.getModerationReports?resolved=false&subject="+postURI+"&cid="+recordCID, "", "", &open))
	require.Len(open.Reports, 2)
	assert.Equal(r1.Id, open.Reports[0].Id)

	var act ActionView
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", operatorDID,
		`{"action": "flag", "subject": `+subject+`, "reason": "reviewed"}`, &act))

	var resolved ResolveModerationReportsOutput
	body := `{"actionId": ` + jsonNumber(act.Id) + `, "reportIds": [` + jsonNumber(r1.Id) + `]}`
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.resolveModerationReports", operatorDID, body, &resolved))
	require.Len(resolved.Reports, 1)
	require.NotNil(resolved.Reports[0].ResolvedByActionId)
	assert.Equal(act.Id, *resolved.Reports[0].ResolvedByActionId)

	// r1 is already resolved, so nothing happens to r2
	var xerr GenericError
	body = `{"actionId": ` + jsonNumber(act.Id) + `, "reportIds": [` + jsonNumber(r1.Id) + `, ` + jsonNumber(r2.Id) + `]}`
	assert.Equal(http.StatusConflict, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.resolveModerationReports", operatorDID, body, &xerr))
	assert.Equal("AlreadyResolved", xerr.Error)

	var got ReportView
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/com.atproto.admin.getModerationReport?id="+jsonNumber(r2.Id), "", "", &got))
	assert.Nil(got.ResolvedByActionId)

	var detail ActionView
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/com.atproto.admin.getModerationAction?id="+jsonNumber(act.Id), "", "", &detail))
	assert.Equal([]uint64{r1.Id}, detail.ResolvedReportIds)

	var directives GetDirectivesOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/app.stratos.getDirectives?subject="+postURI+"&cid="+recordCID, "", "", &directives))
	require.NotNil(directives.Directives.Profile)
	assert.True(directives.Directives.Profile.Blur)
	assert.False(directives.Directives.Profile.NoOverride)
	assert.Equal(strongRefType, directives.Subject.LexiconTypeID)

	var page GetModerationReportsOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/com.atproto.admin.getModerationReports?limit=1", "", "", &page))
	require.Len(page.Reports, 1)
	assert.Equal(r2.Id, page.Reports[0].Id)
	require.NotNil(page.Cursor)
}

func TestBlobOwnerCascade(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t)

	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/app.stratos.putBlobOwner", operatorDID,
		`{"cid": "`+blobCID+`", "did": "`+aliceDID+`"}`, nil))
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", operatorDID,
		`{"action": "takedown", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "`+aliceDID+`"}, "reason": "spam"}`, nil))

	var out GetDirectivesOutput
	require.Equal(http.StatusOK, doRequest(t, srv, http.MethodGet, "/xrpc/app.stratos.getDirectives?subject="+blobCID, "", "", &out))
	require.NotNil(out.Directives.Avatar)
	assert.True(out.Directives.Avatar.Blur)
	assert.True(out.Directives.Avatar.NoOverride)
	assert.Equal(blobRefType, out.Subject.LexiconTypeID)
}

func TestErrorMapping(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		code   int
		name   string
	}{
		{http.MethodGet, "/xrpc/app.stratos.getDirectives?subject=not-a-subject", "", 400, "InvalidSubject"},
		{http.MethodGet, "/xrpc/app.stratos.getDirectives?subject=" + aliceDID + "&entity=banner", "", 400, "InvalidRequest"},
		{http.MethodGet, "/xrpc/com.atproto.admin.getModerationAction?id=42", "", 404, "NotFound"},
		{http.MethodGet, "/xrpc/com.atproto.admin.getModerationAction?id=abc", "", 400, "InvalidRequest"},
		{http.MethodGet, "/xrpc/com.atproto.admin.getModerationReport?id=42", "", 404, "NotFound"},
		{http.MethodGet, "/xrpc/com.atproto.admin.getModerationReports?limit=1000", "", 400, "InvalidRequest"},
		{http.MethodGet, "/xrpc/com.atproto.admin.getModerationReports?resolved=maybe", "", 400, "InvalidRequest"},
		{http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", `{"action": "quarantine", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "` + aliceDID + `"}, "reason": "x"}`, 400, "InvalidRequest"},
		{http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", `{"action": "flag", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "alice"}, "reason": "x"}`, 400, "InvalidSubject"},
		{http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", `{"action": "flag", "subject": {"$type": "app.bsky.feed.post", "did": "` + aliceDID + `"}, "reason": "x"}`, 400, "InvalidSubject"},
		{http.MethodPost, "/xrpc/com.atproto.admin.takeModerationAction", `{"action": "flag", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "` + aliceDID + `"}, "reason": ""}`, 400, "InvalidRequest"},
		{http.MethodPost, "/xrpc/com.atproto.admin.reverseModerationAction", `{"id": 42, "reason": "x"}`, 404, "NotFound"},
		{http.MethodPost, "/xrpc/com.atproto.admin.resolveModerationReports", `{"actionId": 42, "reportIds": [1]}`, 404, "NotFound"},
		{http.MethodPost, "/xrpc/com.atproto.moderation.createReport", `{"reasonType": "reasonBoring", "subject": {"$type": "com.atproto.admin.defs#blobRef", "cid": "` + blobCID + `"}}`, 400, "InvalidRequest"},
	}
	for _, tc := range tests {
		var xerr GenericError
		code := doRequest(t, srv, tc.method, tc.path, operatorDID, tc.body, &xerr)
		assert.Equal(tc.code, code, tc.path)
		assert.Equal(tc.name, xerr.Error, tc.path)
		assert.NotEmpty(xerr.Message, tc.path)
	}
}

func TestReportRateLimit(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)
	// burst of two, refilling far slower than the test runs
	srv.reportLimiter = rate.NewLimiter(rate.Limit(0.001), 2)

	body := `{"reasonType": "reasonSpam", "subject": {"$type": "com.atproto.admin.defs#repoRef", "did": "` + aliceDID + `"}}`
	path := "/xrpc/com.atproto.moderation.createReport"
	assert.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, path, reporterDID, body, nil))
	assert.Equal(http.StatusOK, doRequest(t, srv, http.MethodPost, path, reporterDID, body, nil))

	var xerr GenericError
	assert.Equal(http.StatusTooManyRequests, doRequest(t, srv, http.MethodPost, path, reporterDID, body, &xerr))
	assert.Equal("RateLimitExceeded", xerr.Error)
}

func TestSubjectRefRoundTrip(t *testing.T) {
	assert := assert.New(t)

	refs := []SubjectRef{
		{LexiconTypeID: repoRefType, Did: aliceDID},
		{LexiconTypeID: strongRefType, Uri: "at://" + aliceDID + "/app.bsky.feed.post/3k2abc", Cid: recordCID},
		{LexiconTypeID: blobRefType, Cid: blobCID},
	}
	for _, ref := range refs {
		subj, err := ref.Subject()
		assert.NoError(err)
		assert.Equal(ref, subjectRef(subj))
	}
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
