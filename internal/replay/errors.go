package replay

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against *ReplayError.
var (
	ErrInvalidIndex        = errors.New("invalid capture index")
	ErrMissingField        = errors.New("missing field")
	ErrNonMonotonicSeq     = errors.New("sequence numbers not strictly increasing")
	ErrNonSequentialOffset = errors.New("non-sequential blob offset")
	ErrShortRead           = errors.New("short read from blob")
	ErrBlob                = errors.New("blob unavailable")
)

// ErrorKind classifies replay failures.
type ErrorKind int

const (
	KindInvalidIndex ErrorKind = iota
	KindMissingField
	KindNonMonotonicSeq
	KindNonSequentialOffset
	KindShortRead
	KindBlob
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidIndex:        ErrInvalidIndex,
	KindMissingField:        ErrMissingField,
	KindNonMonotonicSeq:     ErrNonMonotonicSeq,
	KindNonSequentialOffset: ErrNonSequentialOffset,
	KindShortRead:           ErrShortRead,
	KindBlob:                ErrBlob,
}

func (k ErrorKind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return "unknown"
}

// ReplayError describes a failed load or replay.
type ReplayError struct {
	Kind ErrorKind
	// Seq is the packet sequence number involved, -1 when not packet specific.
	Seq int64
	// Detail describes the offending field or values.
	Detail string
	Err    error
}

func (e *ReplayError) Error() string {
	msg := e.Kind.String()
	if e.Seq >= 0 {
		msg = fmt.Sprintf("%s (seq %d)", msg, e.Seq)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ReplayError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func replayErr(kind ErrorKind, seq int64, detail string, err error) *ReplayError {
	return &ReplayError{Kind: kind, Seq: seq, Detail: detail, Err: err}
}
