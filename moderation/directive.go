package moderation

import (
	"fmt"
)

// Logical display slot a directive applies to.
type Entity string

const (
	EntityAccount Entity = "account"
	EntityProfile Entity = "profile"
	EntityAvatar  Entity = "avatar"
)

var AllEntities = []Entity{EntityAccount, EntityProfile, EntityAvatar}

func ParseEntity(raw string) (Entity, error) {
	for _, e := range AllEntities {
		if Entity(raw) == e {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown display entity: %q", raw)
}

// Display instructions for one entity.
//
// DirectiveSet is a commutative monoid under [DirectiveSet.Merge] with [NoDirective] as the identity: every flag is OR'd, so the most restrictive contribution always wins. NoOverride only has meaning alongside Blur; it locks the cover so the viewer can not lift it.
type DirectiveSet struct {
	Filter     bool `json:"filter,omitempty"`
	Blur       bool `json:"blur,omitempty"`
	NoOverride bool `json:"noOverride,omitempty"`
	Alert      bool `json:"alert,omitempty"`
}

var NoDirective = DirectiveSet{}

func (d DirectiveSet) Merge(o DirectiveSet) DirectiveSet {
	return DirectiveSet{
		Filter:     d.Filter || o.Filter,
		Blur:       d.Blur || o.Blur,
		NoOverride: d.NoOverride || o.NoOverride,
		Alert:      d.Alert || o.Alert,
	}
}

func (d DirectiveSet) IsEmpty() bool {
	return d == NoDirective
}

// Per-entity directive contribution of a single action (or the merge of several).
type Effect struct {
	Account DirectiveSet
	Profile DirectiveSet
	Avatar  DirectiveSet
}

func (e Effect) Merge(o Effect) Effect {
	return Effect{
		Account: e.Account.Merge(o.Account),
		Profile: e.Profile.Merge(o.Profile),
		Avatar:  e.Avatar.Merge(o.Avatar),
	}
}

func (e Effect) For(ent Entity) DirectiveSet {
	switch ent {
	case EntityAccount:
		return e.Account
	case EntityProfile:
		return e.Profile
	case EntityAvatar:
		return e.Avatar
	}
	return NoDirective
}

func (e Effect) IsEmpty() bool {
	return e.Account.IsEmpty() && e.Profile.IsEmpty() && e.Avatar.IsEmpty()
}

// Result of directive resolution. A nil entity means "no directive": either the entity was not requested, or nothing active restricts it.
type Decision struct {
	Account *DirectiveSet `json:"account,omitempty"`
	Profile *DirectiveSet `json:"profile,omitempty"`
	Avatar  *DirectiveSet `json:"avatar,omitempty"`

	// IDs of the active actions which applied to the subject or its ancestors, in merge order
	ActionIDs []uint64 `json:"actionIds,omitempty"`
}

func (d *Decision) Get(ent Entity) *DirectiveSet {
	switch ent {
	case EntityAccount:
		return d.Account
	case EntityProfile:
		return d.Profile
	case EntityAvatar:
		return d.Avatar
	}
	return nil
}

func (d *Decision) set(ent Entity, ds DirectiveSet) {
	if ds.IsEmpty() {
		return
	}
	switch ent {
	case EntityAccount:
		d.Account = &ds
	case EntityProfile:
		d.Profile = &ds
	case EntityAvatar:
		d.Avatar = &ds
	}
}

// True if no entity carries a directive.
func (d *Decision) IsEmpty() bool {
	return d.Account == nil && d.Profile == nil && d.Avatar == nil
}
