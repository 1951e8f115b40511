package moderation

import (
	"fmt"
	"strings"
)

type ActionKind string

const (
	KindTakedown    ActionKind = "takedown"
	KindAcknowledge ActionKind = "acknowledge"
	KindFlag        ActionKind = "flag"
	KindEscalate    ActionKind = "escalate"
	KindMute        ActionKind = "mute"
)

// Every kind new actions may be taken with. Each one must have a row in the policy table.
var KnownActionKinds = []ActionKind{
	KindTakedown,
	KindAcknowledge,
	KindFlag,
	KindEscalate,
	KindMute,
}

// Kinds which put the subject into a state rather than annotate it. At most one action of each of these kinds may be active per subject.
var exclusiveKinds = map[ActionKind]bool{
	KindTakedown: true,
	KindMute:     true,
}

func (k ActionKind) IsExclusive() bool {
	return exclusiveKinds[k]
}

const adminDefsPrefix = "com.atproto.admin.defs#"

// Accepts both the bare kind ("takedown") and the lexicon token form ("com.atproto.admin.defs#takedown").
func ParseActionKind(raw string) (ActionKind, error) {
	k := ActionKind(strings.TrimPrefix(raw, adminDefsPrefix))
	if !k.IsKnown() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
	return k, nil
}

func (k ActionKind) IsKnown() bool {
	for _, known := range KnownActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k ActionKind) String() string {
	return string(k)
}

type ReasonType string

const (
	ReasonSpam       ReasonType = "com.atproto.moderation.defs#reasonSpam"
	ReasonViolation  ReasonType = "com.atproto.moderation.defs#reasonViolation"
	ReasonMisleading ReasonType = "com.atproto.moderation.defs#reasonMisleading"
	ReasonSexual     ReasonType = "com.atproto.moderation.defs#reasonSexual"
	ReasonRude       ReasonType = "com.atproto.moderation.defs#reasonRude"
	ReasonOther      ReasonType = "com.atproto.moderation.defs#reasonOther"
)

var KnownReasonTypes = []ReasonType{
	ReasonSpam,
	ReasonViolation,
	ReasonMisleading,
	ReasonSexual,
	ReasonRude,
	ReasonOther,
}

const moderationDefsPrefix = "com.atproto.moderation.defs#"

// Accepts the full lexicon token, or just the fragment ("reasonSpam").
func ParseReasonType(raw string) (ReasonType, error) {
	rt := ReasonType(raw)
	if !strings.HasPrefix(raw, moderationDefsPrefix) {
		rt = ReasonType(moderationDefsPrefix + raw)
	}
	for _, known := range KnownReasonTypes {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReasonType, raw)
}
