// Provides common statetree errors definitions.
package statetree_errors

import "errors"

var (
	ErrBadID       = errors.New("statetree: malformed identifier")
	ErrBadIndex    = errors.New("statetree: malformed fractional index")
	ErrOutOfRange  = errors.New("statetree: index out of range")
	ErrBadKey      = errors.New("statetree: key of the wrong type")
	ErrBrokenChain = errors.New("statetree: cannot get a broken observer chain")
	ErrImmutable   = errors.New("statetree: cannot set an immutable observer")
	ErrNoClock     = errors.New("statetree: timed flushes need a clock")

	ErrOrphanedEvent = errors.New("statetree: event has no link backlink")
	ErrBadEvent      = errors.New("statetree: unsupported event kind")

	ErrUnknownContainer = errors.New("statetree: unknown container")
	ErrDuplicateAction  = errors.New("statetree: duplicate action on one link")
	ErrAlreadyExists    = errors.New("statetree: key already populated")
	ErrNotFound         = errors.New("statetree: key does not exist")
	ErrConflictingID    = errors.New("statetree: conflicting id in observer network")

	ErrBadRecord   = errors.New("statetree: bad clone record")
	ErrUnknownRef  = errors.New("statetree: unresolved container reference")
	ErrUnsupported = errors.New("statetree: value type cannot be cloned")
)
