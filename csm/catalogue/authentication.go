// Package catalogue registers the concrete CSM message types exchanged
// on the control session: authentication, identification, external
// accessory protocol sessions, vehicle status, Wi-Fi configuration, and
// wireless CarPlay.
package catalogue

import "iap2accessory/csm"

const (
	MsgRequestAuthenticationCertificate      = 0xAA00
	MsgAuthenticationCertificate             = 0xAA01
	MsgRequestAuthenticationChallengeResponse = 0xAA02
	MsgAuthenticationResponse                = 0xAA03
	MsgAuthenticationFailed                  = 0xAA04
	MsgAuthenticationSucceeded               = 0xAA05
)

type RequestAuthenticationCertificate struct{}

func (*RequestAuthenticationCertificate) MsgID() uint16  { return MsgRequestAuthenticationCertificate }
func (*RequestAuthenticationCertificate) Schema() []csm.Param { return nil }

type AuthenticationCertificate struct {
	Certificate []byte
}

func (*AuthenticationCertificate) MsgID() uint16 { return MsgAuthenticationCertificate }
func (m *AuthenticationCertificate) Schema() []csm.Param {
	return []csm.Param{csm.ReqBytes(0, "certificate", &m.Certificate)}
}

type RequestAuthenticationChallengeResponse struct {
	Challenge []byte
}

func (*RequestAuthenticationChallengeResponse) MsgID() uint16 {
	return MsgRequestAuthenticationChallengeResponse
}
func (m *RequestAuthenticationChallengeResponse) Schema() []csm.Param {
	return []csm.Param{csm.ReqBytes(0, "challenge", &m.Challenge)}
}

type AuthenticationResponse struct {
	Response []byte
}

func (*AuthenticationResponse) MsgID() uint16 { return MsgAuthenticationResponse }
func (m *AuthenticationResponse) Schema() []csm.Param {
	return []csm.Param{csm.ReqBytes(0, "response", &m.Response)}
}

type AuthenticationFailed struct{}

func (*AuthenticationFailed) MsgID() uint16       { return MsgAuthenticationFailed }
func (*AuthenticationFailed) Schema() []csm.Param { return nil }

type AuthenticationSucceeded struct{}

func (*AuthenticationSucceeded) MsgID() uint16       { return MsgAuthenticationSucceeded }
func (*AuthenticationSucceeded) Schema() []csm.Param { return nil }

func init() {
	csm.Register(MsgRequestAuthenticationCertificate, func() csm.Message { return &RequestAuthenticationCertificate{} })
	csm.Register(MsgAuthenticationCertificate, func() csm.Message { return &AuthenticationCertificate{} })
	csm.Register(MsgRequestAuthenticationChallengeResponse, func() csm.Message { return &RequestAuthenticationChallengeResponse{} })
	csm.Register(MsgAuthenticationResponse, func() csm.Message { return &AuthenticationResponse{} })
	csm.Register(MsgAuthenticationFailed, func() csm.Message { return &AuthenticationFailed{} })
	csm.Register(MsgAuthenticationSucceeded, func() csm.Message { return &AuthenticationSucceeded{} })
}
