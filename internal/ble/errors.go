package ble

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode names a connection failure.
type ErrorCode string

const (
	CodeNotConnected          ErrorCode = "not_connected"
	CodeCommandTimeout        ErrorCode = "command_timeout"
	CodeLinkLost              ErrorCode = "link_lost"
	CodeCharacteristicMissing ErrorCode = "characteristic_missing"
	CodeAuthRejected          ErrorCode = "auth_rejected"
	CodeRetriesExhausted      ErrorCode = "retries_exhausted"
)

// ConnectionError is returned by the Manager. Transient errors clear once the
// link is re-established; fatal ones leave the Manager in StateFailed until
// Reset is called.
type ConnectionError struct {
	Code  ErrorCode
	Fatal bool
	Msg   string
	Err   error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := "ble: " + string(e.Code)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is compares ConnectionError values by Code.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrNotConnected          = &ConnectionError{Code: CodeNotConnected}
	ErrCommandTimeout        = &ConnectionError{Code: CodeCommandTimeout}
	ErrLinkLost              = &ConnectionError{Code: CodeLinkLost}
	ErrCharacteristicMissing = &ConnectionError{Code: CodeCharacteristicMissing}
	ErrAuthRejected          = &ConnectionError{Code: CodeAuthRejected, Fatal: true}
	ErrRetriesExhausted      = &ConnectionError{Code: CodeRetriesExhausted, Fatal: true}
)

func connErr(sentinel *ConnectionError, err error, format string, args ...any) *ConnectionError {
	return &ConnectionError{Code: sentinel.Code, Fatal: sentinel.Fatal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsFatal reports whether err requires re-pairing before the device can be
// used again.
func IsFatal(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Fatal
}

// IsTransient reports whether err is a connection error that a reconnect can
// clear.
func IsTransient(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && !ce.Fatal
}

// NormalizeError maps host Bluetooth stack messages onto ConnectionError
// codes. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication"),
		strings.Contains(msg, "insufficient encryption"),
		strings.Contains(msg, "not paired"),
		strings.Contains(msg, "org.bluez.error.authenticationrejected"):
		return connErr(ErrAuthRejected, err, "device rejected the bond")
	case strings.Contains(msg, "not connected"),
		strings.Contains(msg, "disconnected"):
		return connErr(ErrLinkLost, err, "link dropped")
	case strings.Contains(msg, "not found"):
		return connErr(ErrCharacteristicMissing, err, "gatt lookup failed")
	}
	return err
}
