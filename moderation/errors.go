package moderation

import (
	"errors"
)

var (
	// Subject identifier or content hash is missing or malformed. Nothing was persisted.
	ErrInvalidSubject = errors.New("invalid moderation subject")

	// Action kind is not one this deployment knows how to apply.
	ErrInvalidKind = errors.New("unknown moderation action kind")

	// Report reason type is not in the moderation reason vocabulary.
	ErrInvalidReasonType = errors.New("unknown report reason type")

	// Required request field (acting identity, action reason) was empty.
	ErrInvalidRequest = errors.New("invalid moderation request")

	// Referenced action or report does not exist. Nothing was mutated.
	ErrNotFound = errors.New("not found")

	// Subject already has an active action of a kind which only allows one. Nothing was persisted.
	ErrSubjectHasAction = errors.New("subject already has an active action of this kind")

	// Action was already reversed. Original reversal is unchanged.
	ErrAlreadyReversed = errors.New("moderation action already reversed")

	// At least one report was already resolved. None of the listed reports were changed.
	ErrAlreadyResolved = errors.New("moderation report already resolved")

	// Directives could not be computed (timeout, cancellation, or storage failure). Callers must not treat the subject as unmoderated.
	ErrUnresolved = errors.New("moderation directives unresolved")
)
