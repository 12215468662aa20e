package catalogue

import "iap2accessory/csm"

const (
	MsgStartIdentification       = 0x1D00
	MsgIdentificationInformation = 0x1D01
	MsgIdentificationAccepted    = 0x1D02
	MsgIdentificationRejected    = 0x1D03
)

type PowerProvidingCapability uint8

const (
	PowerProvidingCapabilityNone     PowerProvidingCapability = 0
	PowerProvidingCapabilityReserved PowerProvidingCapability = 1
	PowerProvidingCapabilityAdvanced PowerProvidingCapability = 2
)

func validPowerProvidingCapability(b byte) bool { return b <= byte(PowerProvidingCapabilityAdvanced) }

type MatchAction uint8

const (
	MatchActionNone              MatchAction = 0
	MatchActionSettingsAndPrompt MatchAction = 1
	MatchActionSettingsOnly      MatchAction = 2
)

func validMatchAction(b byte) bool { return b <= byte(MatchActionSettingsOnly) }

type EngineType uint8

const (
	EngineTypeGas      EngineType = 0
	EngineTypeDiesel   EngineType = 1
	EngineTypeElectric EngineType = 2
	EngineTypeCNG      EngineType = 3
)

func validEngineType(b byte) bool { return b <= byte(EngineTypeCNG) }

// ExternalAccessoryProtocol describes one EA protocol the accessory
// supports, nested inside IdentificationInformation.
type ExternalAccessoryProtocol struct {
	ID                                 uint8
	Name                                string
	MatchAction                         MatchAction
	NativeTransportComponentIdentifier *uint16
}

func (m *ExternalAccessoryProtocol) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU8(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.ReqEnum(2, "match_action", &m.MatchAction, validMatchAction),
		csm.OptU16(3, "native_transport_component_identifier", &m.NativeTransportComponentIdentifier),
	}
}

// SerialTransportComponent, USBDeviceTransportComponent,
// USBHostTransportComponent, BluetoothTransportComponent, and
// WirelessCarPlayTransportComponent each flatten the reference
// implementation's shared TransportComponent base (id, name,
// supports_iap2_connection) plus their own extra field, since Go has no
// struct inheritance to mirror the Python dataclass hierarchy.

type SerialTransportComponent struct {
	ID                     uint16
	Name                   string
	SupportsIAP2Connection *bool
}

func (m *SerialTransportComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.OptMarker(2, "supports_iap2_connection", &m.SupportsIAP2Connection),
	}
}

type BluetoothTransportComponent struct {
	ID                     uint16
	Name                   string
	SupportsIAP2Connection *bool
	BluetoothTransportMAC  *[]byte
}

func (m *BluetoothTransportComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.OptMarker(2, "supports_iap2_connection", &m.SupportsIAP2Connection),
		csm.OptBytes(3, "bluetooth_transport_mac", &m.BluetoothTransportMAC),
	}
}

type USBDeviceTransportComponent struct {
	ID                     uint16
	Name                   string
	SupportsIAP2Connection *bool
	AudioSampleRate        *uint8
}

func (m *USBDeviceTransportComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.OptMarker(2, "supports_iap2_connection", &m.SupportsIAP2Connection),
		csm.OptU8(3, "audio_sample_rate", &m.AudioSampleRate),
	}
}

type WirelessCarPlayTransportComponent struct {
	ID                     uint16
	Name                   string
	SupportsIAP2Connection *bool
	SupportsCarPlay        *bool
}

func (m *WirelessCarPlayTransportComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.OptMarker(2, "supports_iap2_connection", &m.SupportsIAP2Connection),
		csm.OptMarker(4, "supports_car_play", &m.SupportsCarPlay),
	}
}

type USBHostTransportComponent struct {
	ID                     uint16
	Name                   string
	SupportsIAP2Connection *bool
	CarPlayInterfaceNumber *uint8
}

func (m *USBHostTransportComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.OptMarker(2, "supports_iap2_connection", &m.SupportsIAP2Connection),
		csm.OptU8(3, "car_play_interface_number", &m.CarPlayInterfaceNumber),
	}
}

type VehicleInformationComponent struct {
	ID         uint16
	Name       string
	EngineType EngineType
}

func (m *VehicleInformationComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.ReqEnum(2, "engine_type", &m.EngineType, validEngineType),
	}
}

// VehicleStatusComponent advertises which status fields the vehicle is
// capable of reporting; the actual values travel in VehicleStatusUpdate.
type VehicleStatusComponent struct {
	ID                 uint16
	Name               string
	Range              *bool
	OutsideTemperature *bool
	RangeWarning       *bool
}

func (m *VehicleStatusComponent) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(0, "id", &m.ID),
		csm.ReqString(1, "name", &m.Name),
		csm.OptMarker(3, "range", &m.Range),
		csm.OptMarker(4, "outside_temperature", &m.OutsideTemperature),
		csm.OptMarker(5, "range_warning", &m.RangeWarning),
	}
}

type StartIdentification struct{}

func (*StartIdentification) MsgID() uint16       { return MsgStartIdentification }
func (*StartIdentification) Schema() []csm.Param { return nil }

// IdentificationInformation is the accessory's full capability
// announcement sent in response to StartIdentification.
type IdentificationInformation struct {
	Name                                  string
	ModelIdentifier                       string
	Manufacturer                          string
	SerialNumber                          string
	FirmwareVersion                       string
	HardwareVersion                       string
	MessagesSentByAccessory               []byte
	MessagesReceivedFromAccessory         []byte
	PowerProvidingCapability              PowerProvidingCapability
	MaximumCurrentDrawnFromDevice         uint16
	SupportedExternalAccessoryProtocol    []*ExternalAccessoryProtocol
	AppMatchTeamID                        *string
	CurrentLanguage                       string
	SupportedLanguage                     []string
	SerialTransportComponent              []*SerialTransportComponent
	USBDeviceTransportComponent           []*USBDeviceTransportComponent
	USBHostTransportComponent             []*USBHostTransportComponent
	BluetoothTransportComponent           []*BluetoothTransportComponent
	VehicleInformationComponent           *VehicleInformationComponent
	VehicleStatusComponent                *VehicleStatusComponent
	WirelessCarPlayTransportComponent     *WirelessCarPlayTransportComponent
}

func (*IdentificationInformation) MsgID() uint16 { return MsgIdentificationInformation }
func (m *IdentificationInformation) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqString(0, "name", &m.Name),
		csm.ReqString(1, "model_identifier", &m.ModelIdentifier),
		csm.ReqString(2, "manufacturer", &m.Manufacturer),
		csm.ReqString(3, "serial_number", &m.SerialNumber),
		csm.ReqString(4, "firmware_version", &m.FirmwareVersion),
		csm.ReqString(5, "hardware_version", &m.HardwareVersion),
		csm.ReqBytes(6, "messages_sent_by_accessory", &m.MessagesSentByAccessory),
		csm.ReqBytes(7, "messages_received_from_accessory", &m.MessagesReceivedFromAccessory),
		csm.ReqEnum(8, "power_providing_capability", &m.PowerProvidingCapability, validPowerProvidingCapability),
		csm.ReqU16(9, "maximum_current_drawn_from_device", &m.MaximumCurrentDrawnFromDevice),
		csm.ListGroup(10, "supported_external_accessory_protocol", &m.SupportedExternalAccessoryProtocol, func() *ExternalAccessoryProtocol { return &ExternalAccessoryProtocol{} }),
		csm.OptString(11, "app_match_team_id", &m.AppMatchTeamID),
		csm.ReqString(12, "current_language", &m.CurrentLanguage),
		csm.ListString(13, "supported_language", &m.SupportedLanguage),
		csm.ListGroup(14, "serial_transport_component", &m.SerialTransportComponent, func() *SerialTransportComponent { return &SerialTransportComponent{} }),
		csm.ListGroup(15, "usb_device_transport_component", &m.USBDeviceTransportComponent, func() *USBDeviceTransportComponent { return &USBDeviceTransportComponent{} }),
		csm.ListGroup(16, "usb_host_transport_component", &m.USBHostTransportComponent, func() *USBHostTransportComponent { return &USBHostTransportComponent{} }),
		csm.ListGroup(17, "bluetooth_transport_component", &m.BluetoothTransportComponent, func() *BluetoothTransportComponent { return &BluetoothTransportComponent{} }),
		csm.OptGroup(20, "vehicle_information_component", &m.VehicleInformationComponent, func() *VehicleInformationComponent { return &VehicleInformationComponent{} }, func(v *VehicleInformationComponent) bool { return v == nil }),
		csm.OptGroup(21, "vehicle_status_component", &m.VehicleStatusComponent, func() *VehicleStatusComponent { return &VehicleStatusComponent{} }, func(v *VehicleStatusComponent) bool { return v == nil }),
		csm.OptGroup(24, "wireless_car_play_transport_component", &m.WirelessCarPlayTransportComponent, func() *WirelessCarPlayTransportComponent { return &WirelessCarPlayTransportComponent{} }, func(v *WirelessCarPlayTransportComponent) bool { return v == nil }),
	}
}

type IdentificationAccepted struct{}

func (*IdentificationAccepted) MsgID() uint16       { return MsgIdentificationAccepted }
func (*IdentificationAccepted) Schema() []csm.Param { return nil }

// IdentificationRejected mirrors IdentificationInformation's field names
// and parameter ids, but every field is a presence marker: a present
// parameter names one field of the original request the device rejected.
type IdentificationRejected struct {
	Name                                  *bool
	ModelIdentifier                       *bool
	Manufacturer                          *bool
	SerialNumber                          *bool
	FirmwareVersion                       *bool
	HardwareVersion                       *bool
	MessagesSentByAccessory               *bool
	MessagesReceivedFromAccessory         *bool
	PowerProvidingCapability              *bool
	MaximumCurrentDrawnFromDevice         *bool
	SupportedExternalAccessoryProtocol    *bool
	AppMatchTeamID                        *bool
	CurrentLanguage                       *bool
	SupportedLanguage                     *bool
	SerialTransportComponent              *bool
	USBDeviceTransportComponent           *bool
	USBHostTransportComponent             *bool
	BluetoothTransportComponent           *bool
	VehicleInformationComponent           *bool
	VehicleStatusComponent                *bool
	WirelessCarPlayTransportComponent     *bool
}

func (*IdentificationRejected) MsgID() uint16 { return MsgIdentificationRejected }
func (m *IdentificationRejected) Schema() []csm.Param {
	return []csm.Param{
		csm.OptMarker(0, "name", &m.Name),
		csm.OptMarker(1, "model_identifier", &m.ModelIdentifier),
		csm.OptMarker(2, "manufacturer", &m.Manufacturer),
		csm.OptMarker(3, "serial_number", &m.SerialNumber),
		csm.OptMarker(4, "firmware_version", &m.FirmwareVersion),
		csm.OptMarker(5, "hardware_version", &m.HardwareVersion),
		csm.OptMarker(6, "messages_sent_by_accessory", &m.MessagesSentByAccessory),
		csm.OptMarker(7, "messages_received_from_accessory", &m.MessagesReceivedFromAccessory),
		csm.OptMarker(8, "power_providing_capability", &m.PowerProvidingCapability),
		csm.OptMarker(9, "maximum_current_drawn_from_device", &m.MaximumCurrentDrawnFromDevice),
		csm.OptMarker(10, "supported_external_accessory_protocol", &m.SupportedExternalAccessoryProtocol),
		csm.OptMarker(11, "app_match_team_id", &m.AppMatchTeamID),
		csm.OptMarker(12, "current_language", &m.CurrentLanguage),
		csm.OptMarker(13, "supported_language", &m.SupportedLanguage),
		csm.OptMarker(14, "serial_transport_component", &m.SerialTransportComponent),
		csm.OptMarker(15, "usb_device_transport_component", &m.USBDeviceTransportComponent),
		csm.OptMarker(16, "usb_host_transport_component", &m.USBHostTransportComponent),
		csm.OptMarker(17, "bluetooth_transport_component", &m.BluetoothTransportComponent),
		csm.OptMarker(20, "vehicle_information_component", &m.VehicleInformationComponent),
		csm.OptMarker(21, "vehicle_status_component", &m.VehicleStatusComponent),
		csm.OptMarker(24, "wireless_car_play_transport_component", &m.WirelessCarPlayTransportComponent),
	}
}

func init() {
	csm.Register(MsgStartIdentification, func() csm.Message { return &StartIdentification{} })
	csm.Register(MsgIdentificationInformation, func() csm.Message { return &IdentificationInformation{} })
	csm.Register(MsgIdentificationAccepted, func() csm.Message { return &IdentificationAccepted{} })
	csm.Register(MsgIdentificationRejected, func() csm.Message { return &IdentificationRejected{} })
}
