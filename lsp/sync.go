// Package lsp packs and unpacks the Link Synchronization Payload carried
// inside SYN frames during session negotiation.
package lsp

import (
	"encoding/binary"
	"errors"
)

const (
	// FixedFieldsSize is the size of the payload before the session list.
	FixedFieldsSize = 10

	// SessionDescriptorSize is the size of one (id, type, version) entry.
	SessionDescriptorSize = 3

	// SupportedVersion is the only version this implementation accepts.
	SupportedVersion = 1

	// Session types.
	SessionTypeControl = 0
	SessionTypeEA      = 2

	// Fixed session ids.
	ControlSessionID = 10
	EASessionID      = 11
)

var (
	ErrInvalidVersion = errors.New("lsp: unsupported version")
	ErrTooShort       = errors.New("lsp: payload shorter than fixed fields")
	ErrTrailingBytes  = errors.New("lsp: trailing bytes do not form a whole session descriptor")
)

// SessionDescriptor describes one negotiated session.
type SessionDescriptor struct {
	ID      byte
	Type    byte
	Version byte
}

// Payload is the decoded Link Synchronization Payload.
type Payload struct {
	Version               byte
	MaxOutgoing           byte
	MaxLen                uint16
	RetransmissionTimeout uint16 // milliseconds
	AckTimeout            uint16 // milliseconds
	MaxRetransmissions    byte
	MaxAck                byte
	Sessions              []SessionDescriptor
}

// DefaultAccessoryProposal is the set of parameters an accessory offers
// during NEGOTIATE, per §6 of the external interface. The peer's own SYN
// always wins; this is only the accessory's opening offer.
func DefaultAccessoryProposal() Payload {
	return Payload{
		Version:               SupportedVersion,
		MaxOutgoing:           4,
		MaxLen:                4096,
		RetransmissionTimeout: 4000,
		AckTimeout:            500,
		MaxRetransmissions:    4,
		MaxAck:                3,
		Sessions: []SessionDescriptor{
			{ID: ControlSessionID, Type: SessionTypeControl, Version: 1},
			{ID: EASessionID, Type: SessionTypeEA, Version: 1},
		},
	}
}

// Encode serializes p to wire bytes.
func Encode(p Payload) []byte {
	buf := make([]byte, FixedFieldsSize+len(p.Sessions)*SessionDescriptorSize)
	buf[0] = p.Version
	buf[1] = p.MaxOutgoing
	binary.BigEndian.PutUint16(buf[2:4], p.MaxLen)
	binary.BigEndian.PutUint16(buf[4:6], p.RetransmissionTimeout)
	binary.BigEndian.PutUint16(buf[6:8], p.AckTimeout)
	buf[8] = p.MaxRetransmissions
	buf[9] = p.MaxAck
	off := FixedFieldsSize
	for _, s := range p.Sessions {
		buf[off] = s.ID
		buf[off+1] = s.Type
		buf[off+2] = s.Version
		off += SessionDescriptorSize
	}
	return buf
}

// Decode parses a SYN payload. Returns ErrInvalidVersion when version != 1.
func Decode(b []byte) (Payload, error) {
	if len(b) < FixedFieldsSize {
		return Payload{}, ErrTooShort
	}
	version := b[0]
	if version != SupportedVersion {
		return Payload{}, ErrInvalidVersion
	}
	rest := b[FixedFieldsSize:]
	if len(rest)%SessionDescriptorSize != 0 {
		return Payload{}, ErrTrailingBytes
	}
	n := len(rest) / SessionDescriptorSize
	sessions := make([]SessionDescriptor, n)
	for i := 0; i < n; i++ {
		off := i * SessionDescriptorSize
		sessions[i] = SessionDescriptor{
			ID:      rest[off],
			Type:    rest[off+1],
			Version: rest[off+2],
		}
	}
	return Payload{
		Version:               version,
		MaxOutgoing:           b[1],
		MaxLen:                binary.BigEndian.Uint16(b[2:4]),
		RetransmissionTimeout: binary.BigEndian.Uint16(b[4:6]),
		AckTimeout:            binary.BigEndian.Uint16(b[6:8]),
		MaxRetransmissions:    b[8],
		MaxAck:                b[9],
		Sessions:              sessions,
	}, nil
}
