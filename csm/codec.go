// Package csm implements the Control Session Message codec: a
// schema-driven, bit-exact TLV serializer for the messages exchanged on
// the iAP2 control session.
//
// Schemas are not derived by reflection. Each message type supplies an
// explicit, ordered table of parameters built from pointers into its own
// fields — a table-walk encoder and decoder over a constant schema, per
// the systems-language translation spec.md calls for in place of the
// reference implementation's runtime field introspection.
package csm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	startMarker    = 0x4040
	paramHeaderLen = 4
	msgHeaderLen   = 6
)

// Cardinality describes how many times a parameter may appear on the wire.
type Cardinality int

const (
	Required Cardinality = iota
	Optional
	List
)

func (c Cardinality) String() string {
	switch c {
	case Required:
		return "required"
	case Optional:
		return "optional"
	case List:
		return "list"
	default:
		return "unknown"
	}
}

// Param is one entry in a message's schema: a wire parameter id bound to
// a field of the Go struct via closures captured over that field's
// address, plus how many times it may legitimately appear.
type Param struct {
	ID          uint16
	Name        string
	Cardinality Cardinality

	// DecodeOne consumes one wire occurrence of this parameter.
	DecodeOne func(payload []byte) error

	// EncodeAll emits zero or more wire occurrences via emit(id, payload).
	EncodeAll func(emit func(id uint16, payload []byte))
}

// Message is implemented by every CSM message type.
type Message interface {
	MsgID() uint16
	Schema() []Param
}

// MissingRequiredParameterError is returned by Decode when a
// required field never appears in the wire parameter stream.
type MissingRequiredParameterError struct {
	Field string
}

func (e *MissingRequiredParameterError) Error() string {
	return fmt.Sprintf("csm: missing required parameter %q", e.Field)
}

var (
	ErrTooShort  = errors.New("csm: buffer or declared length shorter than message header")
	ErrBadStart  = errors.New("csm: start marker mismatch")
	ErrTruncated = errors.New("csm: declared length exceeds buffer")
	ErrBadParam  = errors.New("csm: malformed parameter header")
)

// Encode serializes m to a complete CSM wire message.
func Encode(m Message) []byte {
	params := encodeParams(m.Schema())
	total := msgHeaderLen + len(params)
	buf := make([]byte, msgHeaderLen, total)
	binary.BigEndian.PutUint16(buf[0:2], startMarker)
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], m.MsgID())
	buf = append(buf, params...)
	return buf
}

// DecodeMessage reads the msg_id off the wire, looks it up in the
// registry, and decodes the parameter stream into a fresh instance.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < msgHeaderLen {
		return nil, ErrTooShort
	}
	if binary.BigEndian.Uint16(b[0:2]) != startMarker {
		return nil, ErrBadStart
	}
	length := binary.BigEndian.Uint16(b[2:4])
	if length < msgHeaderLen {
		return nil, ErrTooShort
	}
	if int(length) > len(b) {
		return nil, ErrTruncated
	}
	msgID := binary.BigEndian.Uint16(b[4:6])
	factory, ok := lookup(msgID)
	if !ok {
		return nil, nil // UnknownMessageId: caller decides
	}
	m := factory()
	if err := decodeParams(b[msgHeaderLen:length], m.Schema()); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeInto decodes a parameter stream (no start/length/msg_id framing)
// into schema — used both for top-level re-decode and for nested groups.
func DecodeInto(payload []byte, schema []Param) error {
	return decodeParams(payload, schema)
}

// EncodeSchema serializes schema's parameter stream without message
// framing — used for nested groups.
func EncodeSchema(schema []Param) []byte {
	return encodeParams(schema)
}

func encodeParams(schema []Param) []byte {
	var buf []byte
	emit := func(id uint16, payload []byte) {
		header := make([]byte, paramHeaderLen)
		binary.BigEndian.PutUint16(header[0:2], uint16(paramHeaderLen+len(payload)))
		binary.BigEndian.PutUint16(header[2:4], id)
		buf = append(buf, header...)
		buf = append(buf, payload...)
	}
	for _, p := range schema {
		p.EncodeAll(emit)
	}
	return buf
}

func decodeParams(payload []byte, schema []Param) error {
	index := make(map[uint16]int, len(schema))
	for i, p := range schema {
		index[p.ID] = i
	}
	seen := make([]bool, len(schema))

	off := 0
	for off < len(payload) {
		if off+paramHeaderLen > len(payload) {
			return ErrBadParam
		}
		paramLen := binary.BigEndian.Uint16(payload[off : off+2])
		paramID := binary.BigEndian.Uint16(payload[off+2 : off+4])
		if paramLen < paramHeaderLen || off+int(paramLen) > len(payload) {
			return ErrBadParam
		}
		paramPayload := payload[off+paramHeaderLen : off+int(paramLen)]
		off += int(paramLen)

		i, ok := index[paramID]
		if !ok {
			continue // unknown parameter: forward-compat, skip silently
		}
		p := schema[i]
		if p.Cardinality != List && seen[i] {
			continue // duplicate single-valued parameter: skip silently
		}
		if err := p.DecodeOne(paramPayload); err != nil {
			return err
		}
		seen[i] = true
	}

	for i, p := range schema {
		if p.Cardinality == Required && !seen[i] {
			return &MissingRequiredParameterError{Field: p.Name}
		}
	}
	return nil
}
