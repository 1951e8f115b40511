package moderation

import (
	"fmt"
	"strings"

	"github.com/bluesky-social/stratos/atproto/syntax"
)

type SubjectType string

const (
	SubjectAccount SubjectType = "account"
	SubjectRecord  SubjectType = "record"
	SubjectBlob    SubjectType = "blob"
)

var AllSubjectTypes = []SubjectType{SubjectAccount, SubjectRecord, SubjectBlob}

// What a moderation action or report targets: an account, a specific version of a record, or a blob.
//
// Subject is a comparable value type; two subjects are equal iff their type and fields are equal. Build one with [AccountSubject], [RecordSubject] or [BlobSubject]; the zero value is not a valid subject.
type Subject struct {
	Type SubjectType
	// set for accounts
	DID syntax.DID
	// set for records
	URI syntax.ATURI
	// set for records and blobs
	CID syntax.CID
}

func AccountSubject(did string) (Subject, error) {
	d, err := syntax.ParseDID(did)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: %w", ErrInvalidSubject, err)
	}
	return Subject{Type: SubjectAccount, DID: d}, nil
}

func RecordSubject(uri, cid string) (Subject, error) {
	u, err := syntax.ParseATURI(uri)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: %w", ErrInvalidSubject, err)
	}
	if !u.IsRecord() {
		return Subject{}, fmt.Errorf("%w: record URI needs a collection and record key: %s", ErrInvalidSubject, uri)
	}
	c, err := syntax.ParseCID(cid)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: record content hash: %w", ErrInvalidSubject, err)
	}
	return Subject{Type: SubjectRecord, URI: u.Normalize(), CID: c}, nil
}

func BlobSubject(cid string) (Subject, error) {
	c, err := syntax.ParseCID(cid)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: blob content hash: %w", ErrInvalidSubject, err)
	}
	return Subject{Type: SubjectBlob, CID: c}, nil
}

// Re-checks a Subject which may have been assembled by hand rather than through a constructor.
func (s Subject) Validate() error {
	var err error
	switch s.Type {
	case SubjectAccount:
		_, err = AccountSubject(s.DID.String())
	case SubjectRecord:
		_, err = RecordSubject(s.URI.String(), s.CID.String())
	case SubjectBlob:
		_, err = BlobSubject(s.CID.String())
	default:
		return fmt.Errorf("%w: unknown subject type %q", ErrInvalidSubject, s.Type)
	}
	return err
}

func (s Subject) normalize() Subject {
	if s.Type == SubjectRecord {
		s.URI = s.URI.Normalize()
	}
	return s
}

// Canonical storage key. Keys of different subject types never collide: DIDs start with "did:", record keys are "at://...#<cid>", and blob keys are the bare CID.
func (s Subject) Key() string {
	switch s.Type {
	case SubjectAccount:
		return s.DID.String()
	case SubjectRecord:
		return s.URI.String() + "#" + s.CID.String()
	case SubjectBlob:
		return s.CID.String()
	}
	return ""
}

func (s Subject) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.Key())
}

// Parses a subject from its loosely-typed parts, as they arrive from query parameters or stored rows. The type is inferred when empty: a DID is an account, an AT-URI plus CID is a record, and a bare CID is a blob.
func ParseSubject(typ SubjectType, ident, cid string) (Subject, error) {
	if typ == "" {
		switch {
		case strings.HasPrefix(ident, "did:"):
			typ = SubjectAccount
		case strings.HasPrefix(ident, "at://"):
			typ = SubjectRecord
		case ident == "" && cid != "":
			typ = SubjectBlob
		case cid == "":
			// a bare content hash passed as the identifier
			typ = SubjectBlob
			cid = ident
		default:
			return Subject{}, fmt.Errorf("%w: can not infer subject type of %q", ErrInvalidSubject, ident)
		}
	}
	switch typ {
	case SubjectAccount:
		return AccountSubject(ident)
	case SubjectRecord:
		return RecordSubject(ident, cid)
	case SubjectBlob:
		return BlobSubject(cid)
	}
	return Subject{}, fmt.Errorf("%w: unknown subject type %q", ErrInvalidSubject, typ)
}

type subjectColumns struct {
	Type string
	Key  string
	Did  *string
	Uri  *string
	Cid  *string
}

func (s Subject) columns() subjectColumns {
	cols := subjectColumns{
		Type: string(s.Type),
		Key:  s.Key(),
	}
	switch s.Type {
	case SubjectAccount:
		did := s.DID.String()
		cols.Did = &did
	case SubjectRecord:
		did := s.URI.Authority().String()
		uri := s.URI.String()
		cid := s.CID.String()
		cols.Did = &did
		cols.Uri = &uri
		cols.Cid = &cid
	case SubjectBlob:
		cid := s.CID.String()
		cols.Cid = &cid
	}
	return cols
}

func subjectFromColumns(typ string, did, uri, cid *string) (Subject, error) {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	switch SubjectType(typ) {
	case SubjectAccount:
		return AccountSubject(deref(did))
	case SubjectRecord:
		return RecordSubject(deref(uri), deref(cid))
	case SubjectBlob:
		return BlobSubject(deref(cid))
	}
	return Subject{}, fmt.Errorf("%w: unsupported stored subject type %q", ErrInvalidSubject, typ)
}
