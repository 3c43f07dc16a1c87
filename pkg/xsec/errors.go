package xsec

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced by the crypto layer.
type Kind int

const (
	KindDecoding Kind = iota + 1
	KindCertificateParse
	KindUnsupportedAlgorithm
	KindNotLoaded
	KindKeyExtraction
	KindProviderInit
	KindAlreadyInitialized
	KindVerification
	KindDestroyed
)

func (k Kind) String() string {
	switch k {
	case KindDecoding:
		return "decoding error"
	case KindCertificateParse:
		return "certificate parse error"
	case KindUnsupportedAlgorithm:
		return "unsupported algorithm"
	case KindNotLoaded:
		return "no certificate loaded"
	case KindKeyExtraction:
		return "key extraction error"
	case KindProviderInit:
		return "provider init error"
	case KindAlreadyInitialized:
		return "provider already initialized"
	case KindVerification:
		return "verification error"
	case KindDestroyed:
		return "object destroyed"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrDecoding             = &Error{Kind: KindDecoding}
	ErrCertificateParse     = &Error{Kind: KindCertificateParse}
	ErrUnsupportedAlgorithm = &Error{Kind: KindUnsupportedAlgorithm}
	ErrNotLoaded            = &Error{Kind: KindNotLoaded}
	ErrKeyExtraction        = &Error{Kind: KindKeyExtraction}
	ErrProviderInit         = &Error{Kind: KindProviderInit}
	ErrAlreadyInitialized   = &Error{Kind: KindAlreadyInitialized}
	ErrVerification         = &Error{Kind: KindVerification}
	ErrDestroyed            = &Error{Kind: KindDestroyed}
)

// Error is the typed failure returned by every operation of the layer.
type Error struct {
	Kind Kind
	// Op names the operation, e.g. "x509.LoadBase64".
	Op  string
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E builds an *Error. err may be nil.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an *Error with a formatted cause.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return 0
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
