package syntax

import (
	"fmt"
	"regexp"
	"strings"
)

var aturiRegex = regexp.MustCompile(`^at:\/\/(?P<authority>[a-zA-Z0-9._:%-]+)(\/(?P<collection>[a-zA-Z0-9-.]+)(\/(?P<rkey>[a-zA-Z0-9_~.:-]{1,512}))?)?$`)

// AT-URI with no query or fragment parts.
//
// Moderation subjects must be stable across handle changes, so this type only accepts a DID in the authority position; handle-authority URIs are rejected rather than resolved.
type ATURI string

func ParseATURI(raw string) (ATURI, error) {
	if len(raw) > 8192 {
		return "", fmt.Errorf("AT-URI is too long (8192 chars max)")
	}
	parts := aturiRegex.FindStringSubmatch(raw)
	if len(parts) < 6 || parts[0] == "" {
		return "", fmt.Errorf("AT-URI syntax didn't validate via regex: %q", raw)
	}
	if _, err := ParseDID(parts[1]); err != nil {
		return "", fmt.Errorf("AT-URI authority must be a DID: %w", err)
	}
	if parts[3] != "" {
		if _, err := ParseNSID(parts[3]); err != nil {
			return "", fmt.Errorf("AT-URI first path segment not an NSID: %w", err)
		}
	}
	if parts[5] != "" {
		if _, err := ParseRecordKey(parts[5]); err != nil {
			return "", fmt.Errorf("AT-URI second path segment not a record key: %w", err)
		}
	}
	return ATURI(raw), nil
}

func (u ATURI) segments() []string {
	return strings.SplitN(strings.TrimPrefix(string(u), "at://"), "/", 3)
}

// The repository DID which owns the URI. Returns empty string on a value which was not built with [ParseATURI].
func (u ATURI) Authority() DID {
	did, err := ParseDID(u.segments()[0])
	if err != nil {
		return ""
	}
	return did
}

func (u ATURI) Collection() NSID {
	segs := u.segments()
	if len(segs) < 2 {
		return ""
	}
	return NSID(segs[1])
}

func (u ATURI) RecordKey() RecordKey {
	segs := u.segments()
	if len(segs) < 3 {
		return ""
	}
	return RecordKey(segs[2])
}

// True if the URI points at a single record (has both collection and record key).
func (u ATURI) IsRecord() bool {
	return u.Collection() != "" && u.RecordKey() != ""
}

func (u ATURI) Normalize() ATURI {
	if !u.IsRecord() {
		return u
	}
	return ATURI("at://" + u.Authority().String() + "/" + u.Collection().Normalize().String() + "/" + u.RecordKey().String())
}

func (u ATURI) String() string {
	return string(u)
}

func (u ATURI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *ATURI) UnmarshalText(text []byte) error {
	parsed, err := ParseATURI(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
