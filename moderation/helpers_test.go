package moderation

import (
	"testing"
	"time"

	"github.com/bluesky-social/stratos/moderation/ownerstore"
	"github.com/bluesky-social/stratos/util/cliutil"

	"github.com/stretchr/testify/require"
)

const (
	aliceDID    = "did:example:alice"
	bobDID      = "did:plc:bob1234567890abcdefghijk"
	operatorDID = "did:plc:operator12345678901234"
	reporterDID = "did:plc:reporter1234567890123"

	recordCID = "bafyreie5cvv4h45feadgeuwhbcutmh6t2ceseocckahdoe6uat64zmz454"
	blobCID   = "bafkreiccldh766hwcnuxnf2wh6jgzepf2nlu2lvcllt63eww5p6chi4ity"

	// blobCID in base58btc
	blobCIDBase58 = "zb2rhb7GeWWpwZ4DhYypH8KQCNo6N3pmAswsqPmYUqXjrt4ny"
)

// Fresh ledger over a private in-memory sqlite database, opened the same way the daemon opens its database.
func testLedger(t *testing.T) *Ledger {
	require := require.New(t)

	// pinned to one connection; every connection to ":memory:" is a separate database
	db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(err)
	sqldb, err := db.DB()
	require.NoError(err)
	t.Cleanup(func() { sqldb.Close() })

	l := NewLedger(db, nil)
	require.NoError(l.Migrate())
	return l
}

// Ledger whose clock advances one second per call, so created_at ordering is deterministic.
func testLedgerWithClock(t *testing.T) *Ledger {
	l := testLedger(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	}
	return l
}

func testEngine(t *testing.T) (*Engine, *ownerstore.MemOwnerStore) {
	owners := ownerstore.NewMemOwnerStore()
	hier := &SubjectHierarchy{Owners: owners}
	return NewEngine(testLedgerWithClock(t), hier, nil, 0), owners
}

func mustAccount(t *testing.T, did string) Subject {
	s, err := AccountSubject(did)
	require.NoError(t, err)
	return s
}

func mustRecord(t *testing.T, uri, cid string) Subject {
	s, err := RecordSubject(uri, cid)
	require.NoError(t, err)
	return s
}

func mustBlob(t *testing.T, cid string) Subject {
	s, err := BlobSubject(cid)
	require.NoError(t, err)
	return s
}
