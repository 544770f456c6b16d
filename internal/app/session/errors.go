package session

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/roomsync/internal/app/metadata"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/infra/store"
)

// Error codes returned to the caller.
const (
	CodeNotFound         = "not_found"
	CodeNotMember        = "not_member"
	CodeForbidden        = "forbidden"
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidSeek      = "invalid_seek"
	CodeNoEntry          = "no_entry"
	CodeQueueEmpty       = "queue_empty"
	CodeStoreContention  = "store_contention"
	CodeMetadataNotFound = "metadata_not_found"
	CodeDurationRequired = "duration_required"
	CodeInternal         = "internal"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDurationRequired = errors.New("media duration is unknown")
)

// Error is a rejection carrying a caller-facing code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func reject(code string, err error) error {
	return &Error{Code: code, Err: err}
}

// Code maps an error returned by the manager to its caller-facing code.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	switch {
	case errors.Is(err, store.ErrContention):
		return CodeStoreContention
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, playback.ErrNoEntry):
		return CodeNoEntry
	case errors.Is(err, playback.ErrQueueEmpty):
		return CodeQueueEmpty
	case errors.Is(err, playback.ErrInvalidSeek):
		return CodeInvalidSeek
	case errors.Is(err, metadata.ErrNotFound):
		return CodeMetadataNotFound
	case errors.Is(err, ErrDurationRequired):
		return CodeDurationRequired
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
