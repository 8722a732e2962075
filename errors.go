package anvil

import (
	"github.com/pkg/errors"
)

// ErrorKind classifies every error the engine produces. Kinds are sentinels;
// concrete errors wrap them with github.com/pkg/errors so errors.Is works.
type ErrorKind uint8

const (
	ErrMalformedInput ErrorKind = iota + 1
	ErrCryptoOperation
	ErrAdjustment
	ErrActionExecution
	ErrUnsupportedFeature
)

var errorKindText = map[ErrorKind]string{
	ErrMalformedInput:     "malformed input",
	ErrCryptoOperation:    "crypto operation failed",
	ErrAdjustment:         "context adjustment failed",
	ErrActionExecution:    "action execution failed",
	ErrUnsupportedFeature: "unsupported feature",
}

func (k ErrorKind) Error() string {
	if s, ok := errorKindText[k]; ok {
		return s
	}
	return "unknown error kind"
}

type authenticationFailure struct{}

func (authenticationFailure) Error() string { return "authentication failure" }

// A tag failure is also a crypto failure.
func (authenticationFailure) Is(target error) bool {
	return target == ErrCryptoOperation
}

// ErrAuthenticationFailure is the single condition reported for any record
// MAC or AEAD tag mismatch.
var ErrAuthenticationFailure error = authenticationFailure{}

// KindOf reports the kind of err, or zero if err carries none.
func KindOf(err error) ErrorKind {
	for _, k := range []ErrorKind{ErrMalformedInput, ErrCryptoOperation, ErrAdjustment,
		ErrActionExecution, ErrUnsupportedFeature} {
		if errors.Is(err, k) {
			return k
		}
	}
	return 0
}

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedInput, format, args...)
}

func cryptoError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCryptoOperation, format, args...)
}

func adjustmentError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrAdjustment, format, args...)
}

func actionError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrActionExecution, format, args...)
}

func unsupported(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUnsupportedFeature, format, args...)
}
