package path

import "errors"

var (
	// ErrUnknownSegmentType is returned for a segment type name or ordinal
	// outside the declared set.
	ErrUnknownSegmentType = errors.New("path: unknown segment type")

	// ErrMalformedPoint is returned when a wire point is not a 14-slot tuple.
	ErrMalformedPoint = errors.New("path: malformed point")
)
