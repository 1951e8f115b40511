package syntax

import (
	"fmt"
	"regexp"
)

// Repository record key (the final segment of a record AT-URI).
type RecordKey string

var recordKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_~.:-]{1,512}$`)

func ParseRecordKey(raw string) (RecordKey, error) {
	if raw == "" {
		return "", fmt.Errorf("expected record key, got empty string")
	}
	if len(raw) > 512 {
		return "", fmt.Errorf("record key is too long (512 chars max)")
	}
	if raw == "." || raw == ".." {
		return "", fmt.Errorf("record key can not be '.' or '..'")
	}
	if !recordKeyRegex.MatchString(raw) {
		return "", fmt.Errorf("record key syntax didn't validate via regex: %q", raw)
	}
	return RecordKey(raw), nil
}

func (r RecordKey) String() string {
	return string(r)
}
