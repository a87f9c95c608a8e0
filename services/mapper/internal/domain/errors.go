package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrUpstream         = errors.New("upstream error")
	ErrInvalidRequest   = errors.New("invalid request")
)

// RefererHint is attached to extraction failures surfaced to callers.
const RefererHint = `If you receive a 403 error when accessing streaming URLs, add a Referer: "https://kwik.cx/" header to your requests.`

// Stage names a point in a resolution request, for diagnostics.
type Stage string

const (
	StageMetadata   Stage = "metadata"
	StageSearch     Stage = "search"
	StageDetails    Stage = "details"
	StageEpisodes   Stage = "episodes"
	StageToken      Stage = "token-acquired"
	StageSession    Stage = "session-decoded"
	StageEmbed      Stage = "embed-resolved"
	StageObfuscated Stage = "obfuscation-decoded"
	StageExtracted  Stage = "stream-extracted"
)

// StageError attaches the catalog and stage to a failure. errors.Is
// matches both Kind and the wrapped cause.
type StageError struct {
	Catalog string
	Stage   Stage
	Kind    error
	Err     error
}

func (e *StageError) Error() string {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	} else if e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Catalog == "" {
		return fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Catalog, e.Stage, msg)
}

func (e *StageError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap builds a StageError. The kind is taken from err when it already
// carries one of the sentinels, else kind is used.
func Wrap(catalog string, stage Stage, kind, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range []error{ErrNotFound, ErrExtractionFailed, ErrUpstream, ErrInvalidRequest} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}
	return &StageError{Catalog: catalog, Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the sentinel err carries, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidRequest, ErrNotFound, ErrExtractionFailed, ErrUpstream} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
