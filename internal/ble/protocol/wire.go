package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// message accumulates one protobuf message body. Fields are always written,
// including zero values, so the device receives complete records.
type message struct {
	buf []byte
}

func (m *message) uint(num protowire.Number, v uint64) {
	m.buf = protowire.AppendTag(m.buf, num, protowire.VarintType)
	m.buf = protowire.AppendVarint(m.buf, v)
}

func (m *message) sint(num protowire.Number, v int64) {
	m.uint(num, uint64(v))
}

func (m *message) bool(num protowire.Number, v bool) {
	m.uint(num, protowire.EncodeBool(v))
}

func (m *message) bytes(num protowire.Number, v []byte) {
	m.buf = protowire.AppendTag(m.buf, num, protowire.BytesType)
	m.buf = protowire.AppendBytes(m.buf, v)
}

func (m *message) embed(num protowire.Number, sub *message) {
	m.bytes(num, sub.buf)
}

// field is one decoded protobuf field. Only varint and length-delimited
// fields carry a value; other wire types are skipped.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walkFields decodes data field by field and hands each one to fn.
func walkFields(data []byte, fn func(f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("reading tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return malformed("field %d: %v", num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
