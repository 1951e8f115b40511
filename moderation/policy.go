package moderation

import (
	"fmt"
)

var (
	locked = DirectiveSet{Blur: true, NoOverride: true}
	hidden = DirectiveSet{Filter: true, Blur: true, NoOverride: true}
	warned = DirectiveSet{Alert: true}
)

// The single source of moderation display policy: for each action kind, the directive contribution it makes depending on what kind of subject it was taken against.
//
// Every known kind must list every subject type, even when the contribution is empty; this is checked when the package is loaded.
var policyTable = map[ActionKind]map[SubjectType]Effect{
	KindTakedown: {
		SubjectAccount: {Account: hidden, Profile: locked, Avatar: locked},
		SubjectRecord:  {Profile: hidden},
		SubjectBlob:    {Avatar: locked},
	},
	KindFlag: {
		SubjectAccount: {Account: warned, Profile: warned},
		SubjectRecord:  {Profile: DirectiveSet{Blur: true, Alert: true}},
		SubjectBlob:    {Avatar: DirectiveSet{Blur: true}},
	},
	KindEscalate: {
		SubjectAccount: {Account: warned},
		SubjectRecord:  {Profile: warned},
		SubjectBlob:    {Avatar: warned},
	},
	// audit markers only
	KindAcknowledge: {
		SubjectAccount: {},
		SubjectRecord:  {},
		SubjectBlob:    {},
	},
	// silences further reports; nothing changes for viewers
	KindMute: {
		SubjectAccount: {},
		SubjectRecord:  {},
		SubjectBlob:    {},
	},
}

func init() {
	if err := checkPolicy(policyTable); err != nil {
		panic(err)
	}
}

func checkPolicy(table map[ActionKind]map[SubjectType]Effect) error {
	for _, kind := range KnownActionKinds {
		row, ok := table[kind]
		if !ok {
			return fmt.Errorf("moderation policy has no entry for action kind %q", kind)
		}
		for _, st := range AllSubjectTypes {
			eff, ok := row[st]
			if !ok {
				return fmt.Errorf("moderation policy for %q does not cover %s subjects", kind, st)
			}
			for _, ent := range AllEntities {
				ds := eff.For(ent)
				if ds.NoOverride && !ds.Blur {
					return fmt.Errorf("moderation policy for %q on %s sets noOverride without blur (%s)", kind, st, ent)
				}
			}
		}
	}
	return nil
}

// Looks up the contribution of an action. The second return is false for kinds this deployment does not know about (for example rows written by a newer version); callers treat those as contributing nothing.
func EffectOf(kind ActionKind, st SubjectType) (Effect, bool) {
	row, ok := policyTable[kind]
	if !ok {
		return Effect{}, false
	}
	eff, ok := row[st]
	return eff, ok
}
