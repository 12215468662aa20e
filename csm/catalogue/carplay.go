package catalogue

import "iap2accessory/csm"

const (
	MsgWirelessCarPlayUpdate                 = 0x4E0D
	MsgDeviceTransportIdentifierNotification = 0x4E0E
)

type WirelessCarPlayStatus uint8

const (
	WirelessCarPlayStatusUnavailable WirelessCarPlayStatus = 0
	WirelessCarPlayStatusAvailable   WirelessCarPlayStatus = 1
)

func validWirelessCarPlayStatus(b byte) bool { return b <= byte(WirelessCarPlayStatusAvailable) }

type DeviceTransportIdentifierNotification struct {
	BluetoothTransportID string
	USBTransportID       string
}

func (*DeviceTransportIdentifierNotification) MsgID() uint16 {
	return MsgDeviceTransportIdentifierNotification
}
func (m *DeviceTransportIdentifierNotification) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqString(0, "bluetooth_transport_id", &m.BluetoothTransportID),
		csm.ReqString(1, "usb_transport_id", &m.USBTransportID),
	}
}

type WirelessCarPlayUpdate struct {
	Status WirelessCarPlayStatus
}

func (*WirelessCarPlayUpdate) MsgID() uint16 { return MsgWirelessCarPlayUpdate }
func (m *WirelessCarPlayUpdate) Schema() []csm.Param {
	return []csm.Param{csm.ReqEnum(0, "status", &m.Status, validWirelessCarPlayStatus)}
}

func init() {
	csm.Register(MsgDeviceTransportIdentifierNotification, func() csm.Message {
		return &DeviceTransportIdentifierNotification{}
	})
	csm.Register(MsgWirelessCarPlayUpdate, func() csm.Message { return &WirelessCarPlayUpdate{} })
}
