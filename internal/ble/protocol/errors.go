package protocol

import "fmt"

// ErrorKind groups codec errors by how a caller should react to them.
type ErrorKind string

const (
	// KindValidation errors are raised before any frame is built; the caller
	// fixes the input and tries again.
	KindValidation ErrorKind = "validation"
	// KindEncode errors are raised while building a frame from valid input.
	KindEncode ErrorKind = "encode"
	// KindDecode errors mean the device answered with something this codec
	// cannot interpret. They are permanent for the device and never retried.
	KindDecode ErrorKind = "decode"
)

// Error is the single error type produced by the codec.
type Error struct {
	Kind  ErrorKind
	Code  string
	Field string
	Value any
	Msg   string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := "protocol: " + string(e.Kind)
	if e.Code != "" {
		s += ": " + e.Code
	}
	if e.Field != "" {
		s += fmt.Sprintf(" (%s=%v)", e.Field, e.Value)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is matches by Code when the target carries one, otherwise by Kind, so
// errors.Is(err, ErrValidation) and errors.Is(err, ErrOutOfRange) both work.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// Tier sentinels.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrEncode     = &Error{Kind: KindEncode}
	ErrDecode     = &Error{Kind: KindDecode}
)

// Specific sentinels. Compare with errors.Is; the returned errors carry the
// offending field and value.
var (
	ErrOutOfRange          = &Error{Kind: KindValidation, Code: "out_of_range"}
	ErrColorOutOfRange     = &Error{Kind: KindValidation, Code: "color_out_of_range"}
	ErrInvalidSceneOp      = &Error{Kind: KindValidation, Code: "invalid_scene_op"}
	ErrSampleCountMismatch = &Error{Kind: KindValidation, Code: "sample_count_mismatch"}
	ErrTextTooLong         = &Error{Kind: KindEncode, Code: "text_too_long"}
	ErrUnknownEnumValue    = &Error{Kind: KindEncode, Code: "unknown_enum_value"}
	ErrMalformedResponse   = &Error{Kind: KindDecode, Code: "malformed_response"}
	ErrUnsupported         = &Error{Kind: KindDecode, Code: "unsupported"}
)

func outOfRange(field string, value any, lo, hi int) error {
	return &Error{Kind: KindValidation, Code: ErrOutOfRange.Code, Field: field, Value: value,
		Msg: fmt.Sprintf("must be in [%d,%d]", lo, hi)}
}

func unknownEnum(field, value string) error {
	return &Error{Kind: KindEncode, Code: ErrUnknownEnumValue.Code, Field: field, Value: value}
}

func malformed(format string, args ...any) error {
	return &Error{Kind: KindDecode, Code: ErrMalformedResponse.Code, Msg: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) error {
	return &Error{Kind: KindDecode, Code: ErrUnsupported.Code, Msg: fmt.Sprintf(format, args...)}
}
