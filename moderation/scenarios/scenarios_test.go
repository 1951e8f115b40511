package scenarios

import (
	"context"
	"testing"

	"github.com/bluesky-social/stratos/moderation"
	"github.com/bluesky-social/stratos/moderation/ownerstore"
	"github.com/bluesky-social/stratos/util/cliutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) (*moderation.Engine, ownerstore.OwnerStore) {
	require := require.New(t)

	// one connection: each connection to ":memory:" is its own database
	db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(err)
	sqldb, err := db.DB()
	require.NoError(err)
	t.Cleanup(func() { sqldb.Close() })

	ledger := moderation.NewLedger(db, nil)
	require.NoError(ledger.Migrate())
	owners := ownerstore.NewDBOwnerStore(db)
	require.NoError(owners.Migrate())

	hier := &moderation.SubjectHierarchy{Owners: owners}
	return moderation.NewEngine(ledger, hier, nil, 0), owners
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	all, err := Load()
	assert.NoError(err)
	assert.NotEmpty(all)
}

func TestParseRejects(t *testing.T) {
	assert := assert.New(t)

	bad := []string{
		`not json`,
		`[{"title": "", "subject": "account", "actions": [], "behaviors": {}}]`,
		`[{"title": "x", "subject": "label", "actions": [], "behaviors": {}}]`,
		`[{"title": "x", "subject": "account", "actions": [{"kind": "quarantine", "on": "account"}], "behaviors": {}}]`,
		`[{"title": "x", "subject": "account", "actions": [{"kind": "flag", "on": "repo"}], "behaviors": {}}]`,
		`[{"title": "x", "subject": "account", "entities": ["banner"], "actions": [], "behaviors": {}}]`,
		`[{"title": "x", "subject": "account", "actions": [], "behaviors": {}}, {"title": "x", "subject": "blob", "actions": [], "behaviors": {}}]`,
	}
	for _, raw := range bad {
		_, err := Parse([]byte(raw))
		assert.Error(err, raw)
	}
}

// Every (kind, subject type) cell of the policy table has a fixture which isolates it.
func TestPolicyCoverage(t *testing.T) {
	assert := assert.New(t)

	all, err := Load()
	require.NoError(t, err)

	for _, kind := range moderation.KnownActionKinds {
		for _, st := range moderation.AllSubjectTypes {
			found := false
			for _, s := range all {
				if s.Subject == st && s.Entities == nil && len(s.Actions) == 1 && s.Actions[0].Kind == kind && s.Actions[0].On == st && !s.Actions[0].Reversed {
					found = true
					eff, _ := moderation.EffectOf(kind, st)
					for _, ent := range moderation.DefaultEntities(st) {
						want := eff.For(ent)
						got := s.Behaviors.Get(ent)
						if want.IsEmpty() {
							assert.Nil(got, "%s (%s)", s.Title, ent)
						} else if assert.NotNil(got, "%s (%s)", s.Title, ent) {
							assert.Equal(want, *got, "%s (%s)", s.Title, ent)
						}
					}
				}
			}
			assert.True(found, "no fixture for %s on %s", kind, st)
		}
	}
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()

	all, err := Load()
	require.NoError(t, err)

	for _, s := range all {
		t.Run(s.Title, func(t *testing.T) {
			engine, owners := testEngine(t)
			fix, err := s.Apply(ctx, engine.Ledger, owners)
			require.NoError(t, err)
			assert.NoError(t, s.Check(ctx, engine, fix))
		})
	}
}

// Fixtures derive distinct subjects, so all of them can run against one ledger.
func TestScenariosSharedLedger(t *testing.T) {
	ctx := context.Background()
	engine, owners := testEngine(t)

	all, err := Load()
	require.NoError(t, err)

	fixtures := make([]*Fixture, len(all))
	for i, s := range all {
		fix, err := s.Apply(ctx, engine.Ledger, owners)
		require.NoError(t, err)
		fixtures[i] = fix
	}
	for i, s := range all {
		assert.NoError(t, s.Check(ctx, engine, fixtures[i]), s.Title)
	}
}

func TestCheckDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	engine, owners := testEngine(t)

	s := Scenario{
		Title:   "wrong expectation",
		Subject: moderation.SubjectAccount,
		Actions: []ScenarioAction{{Kind: moderation.KindFlag, On: moderation.SubjectAccount}},
		Behaviors: Behaviors{
			Account: &moderation.DirectiveSet{Filter: true},
		},
	}
	fix, err := s.Apply(ctx, engine.Ledger, owners)
	require.NoError(t, err)
	err = s.Check(ctx, engine, fix)
	assert.ErrorContains(t, err, "account: expected filter, got alert")
}

func TestDescribe(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("none", Describe(nil))
	assert.Equal("none", Describe(&moderation.DirectiveSet{}))
	assert.Equal("filter,blur,noOverride,alert", Describe(&moderation.DirectiveSet{Filter: true, Blur: true, NoOverride: true, Alert: true}))
}
