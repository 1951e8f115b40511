package syntax

import (
	"fmt"
	"regexp"
	"strings"
)

// Namespaced identifier, as used for record collections (eg, "app.bsky.feed.post").
type NSID string

var nsidRegex = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+(\.[a-zA-Z]([a-zA-Z]{0,61}[a-zA-Z])?)$`)

func ParseNSID(raw string) (NSID, error) {
	if raw == "" {
		return "", fmt.Errorf("expected NSID, got empty string")
	}
	if len(raw) > 317 {
		return "", fmt.Errorf("NSID is too long (317 chars max)")
	}
	if !nsidRegex.MatchString(raw) {
		return "", fmt.Errorf("NSID syntax didn't validate via regex: %q", raw)
	}
	return NSID(raw), nil
}

// Authority domain segments are case-insensitive; the final name segment is not.
func (n NSID) Normalize() NSID {
	i := strings.LastIndex(string(n), ".")
	if i < 0 {
		return n
	}
	return NSID(strings.ToLower(string(n)[:i]) + string(n)[i:])
}

func (n NSID) String() string {
	return string(n)
}
