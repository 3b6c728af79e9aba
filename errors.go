package statetree

import "github.com/drpcorg/statetree/statetree_errors"

var (
	ErrBadID       = statetree_errors.ErrBadID
	ErrOutOfRange  = statetree_errors.ErrOutOfRange
	ErrBadKey      = statetree_errors.ErrBadKey
	ErrBrokenChain = statetree_errors.ErrBrokenChain
	ErrImmutable   = statetree_errors.ErrImmutable
	ErrNoClock     = statetree_errors.ErrNoClock

	ErrOrphanedEvent = statetree_errors.ErrOrphanedEvent
	ErrBadEvent      = statetree_errors.ErrBadEvent

	ErrUnknownContainer = statetree_errors.ErrUnknownContainer
	ErrDuplicateAction  = statetree_errors.ErrDuplicateAction
	ErrAlreadyExists    = statetree_errors.ErrAlreadyExists
	ErrNotFound         = statetree_errors.ErrNotFound
	ErrConflictingID    = statetree_errors.ErrConflictingID
)
