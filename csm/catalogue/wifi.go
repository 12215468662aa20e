package catalogue

import "iap2accessory/csm"

const (
	MsgRequestWiFiInformation                       = 0x5700
	MsgWiFiInformation                               = 0x5701
	MsgRequestAccessoryWiFiConfigurationInformation = 0x5702
	MsgAccessoryWiFiConfigurationInformation        = 0x5703
)

type WiFiRequestStatus uint8

const (
	WiFiRequestStatusSuccess                       WiFiRequestStatus = 0
	WiFiRequestStatusUserDeclined                  WiFiRequestStatus = 1
	WiFiRequestStatusNetworkInformationUnavailable WiFiRequestStatus = 2
)

func validWiFiRequestStatus(b byte) bool { return b <= byte(WiFiRequestStatusNetworkInformationUnavailable) }

type SecurityType uint8

const (
	SecurityTypeNone    SecurityType = 0
	SecurityTypeWEP     SecurityType = 1
	SecurityTypeWPAWPA2 SecurityType = 2
)

func validSecurityType(b byte) bool { return b <= byte(SecurityTypeWPAWPA2) }

type RequestWiFiInformation struct{}

func (*RequestWiFiInformation) MsgID() uint16       { return MsgRequestWiFiInformation }
func (*RequestWiFiInformation) Schema() []csm.Param { return nil }

type WiFiInformation struct {
	Status     WiFiRequestStatus
	SSID       *string
	Passphrase *string
}

func (*WiFiInformation) MsgID() uint16 { return MsgWiFiInformation }
func (m *WiFiInformation) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqEnum(0, "status", &m.Status, validWiFiRequestStatus),
		csm.OptString(1, "ssid", &m.SSID),
		csm.OptString(2, "passphrase", &m.Passphrase),
	}
}

type RequestAccessoryWiFiConfigurationInformation struct{}

func (*RequestAccessoryWiFiConfigurationInformation) MsgID() uint16 {
	return MsgRequestAccessoryWiFiConfigurationInformation
}
func (*RequestAccessoryWiFiConfigurationInformation) Schema() []csm.Param { return nil }

type AccessoryWiFiConfigurationInformation struct {
	SSID         *string
	Passphrase   *string
	SecurityType SecurityType
	Channel      uint8
}

func (*AccessoryWiFiConfigurationInformation) MsgID() uint16 {
	return MsgAccessoryWiFiConfigurationInformation
}
func (m *AccessoryWiFiConfigurationInformation) Schema() []csm.Param {
	return []csm.Param{
		csm.OptString(1, "ssid", &m.SSID),
		csm.OptString(2, "passphrase", &m.Passphrase),
		csm.ReqEnum(3, "security_type", &m.SecurityType, validSecurityType),
		csm.ReqU8(4, "channel", &m.Channel),
	}
}

func init() {
	csm.Register(MsgRequestWiFiInformation, func() csm.Message { return &RequestWiFiInformation{} })
	csm.Register(MsgWiFiInformation, func() csm.Message { return &WiFiInformation{} })
	csm.Register(MsgRequestAccessoryWiFiConfigurationInformation, func() csm.Message {
		return &RequestAccessoryWiFiConfigurationInformation{}
	})
	csm.Register(MsgAccessoryWiFiConfigurationInformation, func() csm.Message {
		return &AccessoryWiFiConfigurationInformation{}
	})
}
