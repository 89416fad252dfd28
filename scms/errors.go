package scms

import "fmt"

// ModelConstructionError reports that no model can be built for a track,
// typically because its covariance matrix is singular.
type ModelConstructionError struct {
	Reason string
	Err    error
}

func (e *ModelConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scms: cannot build model: %s: %v", e.Reason, e.Err)
	}
	return "scms: cannot build model: " + e.Reason
}

func (e *ModelConstructionError) Unwrap() error { return e.Err }

// DimensionMismatchError reports a comparison between representations of
// different sizes. No partial result is computed.
type DimensionMismatchError struct {
	Left, Right int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("scms: dimension mismatch: %d != %d", e.Left, e.Right)
}

// TruncatedModelError reports a serialized model that is short or malformed.
type TruncatedModelError struct {
	Dim  int
	Need int
	Have int
}

func (e *TruncatedModelError) Error() string {
	if e.Dim <= 0 && e.Need == 0 {
		return fmt.Sprintf("scms: malformed model header: dim=%d", e.Dim)
	}
	return fmt.Sprintf("scms: truncated model: dim=%d needs %d bytes, have %d", e.Dim, e.Need, e.Have)
}

// UnsupportedDistanceKindError reports an unknown distance selector.
type UnsupportedDistanceKindError struct {
	Kind DistanceKind
}

func (e *UnsupportedDistanceKindError) Error() string {
	return fmt.Sprintf("scms: unsupported distance kind %d", int(e.Kind))
}
