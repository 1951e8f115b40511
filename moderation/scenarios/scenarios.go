// Package scenarios holds declarative moderation behavior fixtures: a set of actions against an account, one of its records, and one of its blobs, and the directives the engine must produce for one of them.
//
// The fixtures double as documentation of the policy table, and as the oracle for the engine tests.
package scenarios

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bluesky-social/stratos/moderation"
	"github.com/bluesky-social/stratos/moderation/ownerstore"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

//go:embed scenarios.json
var scenariosJSON []byte

// acting identity recorded on synthesized actions
const operatorDID = "did:plc:scenariooperator"

type Behaviors struct {
	Account *moderation.DirectiveSet `json:"account,omitempty"`
	Profile *moderation.DirectiveSet `json:"profile,omitempty"`
	Avatar  *moderation.DirectiveSet `json:"avatar,omitempty"`
}

func (b *Behaviors) Get(ent moderation.Entity) *moderation.DirectiveSet {
	var ds *moderation.DirectiveSet
	switch ent {
	case moderation.EntityAccount:
		ds = b.Account
	case moderation.EntityProfile:
		ds = b.Profile
	case moderation.EntityAvatar:
		ds = b.Avatar
	}
	// "{}" is the same as absent
	if ds != nil && ds.IsEmpty() {
		return nil
	}
	return ds
}

type ScenarioAction struct {
	Kind     moderation.ActionKind  `json:"kind"`
	On       moderation.SubjectType `json:"on"`
	Reversed bool                   `json:"reversed,omitempty"`
}

type Scenario struct {
	Title string `json:"title"`
	// which of the fixture subjects is queried
	Subject moderation.SubjectType `json:"subject"`
	// nil for the subject's default entities
	Entities  []moderation.Entity `json:"entities,omitempty"`
	Actions   []ScenarioAction    `json:"actions"`
	Behaviors Behaviors           `json:"behaviors"`
}

// Concrete subjects a scenario runs against. They are derived from the title, so scenarios do not interfere when sharing a ledger.
type Fixture struct {
	Account moderation.Subject
	Record  moderation.Subject
	Blob    moderation.Subject
}

func (f *Fixture) Get(st moderation.SubjectType) moderation.Subject {
	switch st {
	case moderation.SubjectRecord:
		return f.Record
	case moderation.SubjectBlob:
		return f.Blob
	}
	return f.Account
}

// Parses and sanity-checks the embedded scenarios.
func Load() ([]Scenario, error) {
	return Parse(scenariosJSON)
}

func Parse(b []byte) ([]Scenario, error) {
	var out []Scenario
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}
	titles := make(map[string]bool, len(out))
	for _, s := range out {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Title, err)
		}
		if titles[s.Title] {
			return nil, fmt.Errorf("duplicate scenario title: %q", s.Title)
		}
		titles[s.Title] = true
	}
	return out, nil
}

func isSubjectType(st moderation.SubjectType) bool {
	for _, known := range moderation.AllSubjectTypes {
		if st == known {
			return true
		}
	}
	return false
}

func (s *Scenario) validate() error {
	if s.Title == "" {
		return fmt.Errorf("missing title")
	}
	if !isSubjectType(s.Subject) {
		return fmt.Errorf("unknown subject type %q", s.Subject)
	}
	for _, ent := range s.Entities {
		if _, err := moderation.ParseEntity(string(ent)); err != nil {
			return err
		}
	}
	for _, a := range s.Actions {
		if !a.Kind.IsKnown() {
			return fmt.Errorf("unknown action kind %q", a.Kind)
		}
		if !isSubjectType(a.On) {
			return fmt.Errorf("unknown action target %q", a.On)
		}
	}
	return nil
}

func (s *Scenario) Fixture() (*Fixture, error) {
	sum := sha256.Sum256([]byte(s.Title))
	ident := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:15]))

	acct, err := moderation.AccountSubject("did:plc:" + ident)
	if err != nil {
		return nil, err
	}
	recCID, err := hashCID(cid.DagCBOR, "record:"+s.Title)
	if err != nil {
		return nil, err
	}
	rec, err := moderation.RecordSubject(fmt.Sprintf("at://%s/app.bsky.feed.post/%s", acct.DID, ident[:13]), recCID)
	if err != nil {
		return nil, err
	}
	blobCID, err := hashCID(cid.Raw, "blob:"+s.Title)
	if err != nil {
		return nil, err
	}
	blob, err := moderation.BlobSubject(blobCID)
	if err != nil {
		return nil, err
	}
	return &Fixture{Account: acct, Record: rec, Blob: blob}, nil
}

func hashCID(codec uint64, data string) (string, error) {
	h, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(codec, h).String(), nil
}

// Synthesizes the scenario's action set through the real ledger, including reversals, and registers the blob's owner.
func (s *Scenario) Apply(ctx context.Context, ledger *moderation.Ledger, owners ownerstore.OwnerStore) (*Fixture, error) {
	fix, err := s.Fixture()
	if err != nil {
		return nil, err
	}
	if err := owners.PutBlobOwner(ctx, fix.Blob.CID, fix.Account.DID); err != nil {
		return nil, err
	}
	for _, sa := range s.Actions {
		act, err := ledger.TakeAction(ctx, sa.Kind, fix.Get(sa.On), "scenario: "+s.Title, operatorDID)
		if err != nil {
			return nil, err
		}
		if sa.Reversed {
			if _, err := ledger.ReverseAction(ctx, act.ID, operatorDID, "scenario reversal"); err != nil {
				return nil, err
			}
		}
	}
	return fix, nil
}

// Resolves the scenario's subject and compares every entity with the expected behaviors. Entities which were not requested must come back empty.
func (s *Scenario) Check(ctx context.Context, engine *moderation.Engine, fix *Fixture) error {
	dec, err := engine.ResolveDirectives(ctx, fix.Get(s.Subject), s.Entities...)
	if err != nil {
		return err
	}
	var problems []string
	for _, ent := range moderation.AllEntities {
		want := s.Behaviors.Get(ent)
		got := dec.Get(ent)
		if !sameDirectives(want, got) {
			problems = append(problems, fmt.Sprintf("%s: expected %s, got %s", ent, Describe(want), Describe(got)))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("scenario %q: %s", s.Title, strings.Join(problems, "; "))
	}
	return nil
}

func sameDirectives(a, b *moderation.DirectiveSet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Renders a directive set in compact form, eg "blur,noOverride".
func Describe(ds *moderation.DirectiveSet) string {
	if ds == nil || ds.IsEmpty() {
		return "none"
	}
	var flags []string
	if ds.Filter {
		flags = append(flags, "filter")
	}
	if ds.Blur {
		flags = append(flags, "blur")
	}
	if ds.NoOverride {
		flags = append(flags, "noOverride")
	}
	if ds.Alert {
		flags = append(flags, "alert")
	}
	return strings.Join(flags, ",")
}
