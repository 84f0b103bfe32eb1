package deeppager

import "errors"

var (
	// ErrInvalidArgument is returned when a page request cannot be served as
	// given: non-positive page number or size, missing query, no targets.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrBackendUnavailable wraps every transport or backend level failure of
	// a search, scroll advance or id lookup.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrDecode is returned when a hit body does not fit the requested shape.
	ErrDecode = errors.New("decode error")
	// ErrEncode is returned when a document cannot be converted to a body.
	ErrEncode = errors.New("encode error")
)
