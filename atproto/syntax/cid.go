package syntax

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// Content hash (CIDv1) in string form, used for record versions and blobs.
//
// Unlike the other types in this package, ParseCID fully decodes the value with go-cid, so a CID which passes here is one downstream storage can actually address. The result is always re-encoded in the canonical base32 multibase form: the same content hash written in another multibase encoding parses to an identical CID.
type CID string

func ParseCID(raw string) (CID, error) {
	if len(raw) < 8 {
		return "", fmt.Errorf("CID is too short (8 chars min)")
	}
	if len(raw) > 256 {
		return "", fmt.Errorf("CID is too long (256 chars max)")
	}
	if strings.HasPrefix(raw, "Qm") {
		return "", fmt.Errorf("CIDv0 not allowed")
	}
	c, err := cid.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("CID failed to decode: %w", err)
	}
	if c.Version() != 1 {
		return "", fmt.Errorf("expected CIDv1, got version %d", c.Version())
	}
	return CID(c.String()), nil
}

func (c CID) String() string {
	return string(c)
}

func (c CID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CID) UnmarshalText(text []byte) error {
	parsed, err := ParseCID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
