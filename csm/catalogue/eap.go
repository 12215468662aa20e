package catalogue

import "iap2accessory/csm"

const (
	MsgStartExternalAccessoryProtocolSession = 0xEA00
	MsgStopExternalAccessoryProtocolSession  = 0xEA01
	// 0xEA02 has no binding in the reference message catalogue and is
	// treated as reserved; the registry leaves it unbound.
	MsgStatusExternalAccessoryProtocolSession = 0xEA03
)

type SessionStatus uint8

const (
	SessionStatusOK    SessionStatus = 0
	SessionStatusClose SessionStatus = 1
)

func validSessionStatus(b byte) bool {
	return b == byte(SessionStatusOK) || b == byte(SessionStatusClose)
}

type StartExternalAccessoryProtocolSession struct {
	ProtocolID uint8
	SessionID  uint16
}

func (*StartExternalAccessoryProtocolSession) MsgID() uint16 {
	return MsgStartExternalAccessoryProtocolSession
}
func (m *StartExternalAccessoryProtocolSession) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU8(0, "protocol_id", &m.ProtocolID),
		csm.ReqU16(1, "session_id", &m.SessionID),
	}
}

type StopExternalAccessoryProtocolSession struct {
	SessionID uint16
}

func (*StopExternalAccessoryProtocolSession) MsgID() uint16 {
	return MsgStopExternalAccessoryProtocolSession
}
func (m *StopExternalAccessoryProtocolSession) Schema() []csm.Param {
	return []csm.Param{csm.ReqU16(0, "session_id", &m.SessionID)}
}

type StatusExternalAccessoryProtocolSession struct {
	SessionID uint16
	Status    SessionStatus
}

func (*StatusExternalAccessoryProtocolSession) MsgID() uint16 {
	return MsgStatusExternalAccessoryProtocolSession
}
func (m *StatusExternalAccessoryProtocolSession) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "session_id", &m.SessionID),
		csm.ReqEnum(1, "status", &m.Status, validSessionStatus),
	}
}

func init() {
	csm.Register(MsgStartExternalAccessoryProtocolSession, func() csm.Message {
		return &StartExternalAccessoryProtocolSession{}
	})
	csm.Register(MsgStopExternalAccessoryProtocolSession, func() csm.Message {
		return &StopExternalAccessoryProtocolSession{}
	})
	csm.Register(MsgStatusExternalAccessoryProtocolSession, func() csm.Message {
		return &StatusExternalAccessoryProtocolSession{}
	})
}
