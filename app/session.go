// Package app implements the reference application-layer handshake
// that sits on top of a session.Manager connection: proving the
// accessory's identity to the device over the control stream. It is
// illustrative wiring, not a certified implementation of any vehicle's
// business logic — everything past identification (Wi-Fi, vehicle
// status, CarPlay) is someone else's handler, reached only through the
// same control-session message stream this package also uses.
package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"iap2accessory/coprocessor"
	"iap2accessory/csm"
	"iap2accessory/csm/catalogue"
	"iap2accessory/session"
)

// Session drives one named accessory link through authentication and
// identification, then hands the connection off.
type Session struct {
	manager  *session.Manager
	name     string
	coproc   coprocessor.Coprocessor
	identity *catalogue.IdentificationInformation
}

// New builds a Session that answers authentication challenges through
// coproc and, once identification starts, presents identity verbatim.
func New(manager *session.Manager, name string, coproc coprocessor.Coprocessor, identity *catalogue.IdentificationInformation) *Session {
	return &Session{manager: manager, name: name, coproc: coproc, identity: identity}
}

// Run performs the authentication handshake followed by the
// identification handshake, in that order, as the device always
// initiates both on a freshly NORMAL link.
func (s *Session) Run(ctx context.Context) error {
	ch := s.manager.Subscribe(s.name)
	defer s.manager.Unsubscribe(s.name, ch)

	if err := s.authenticate(ctx, ch); err != nil {
		return fmt.Errorf("app: %s: authentication: %w", s.name, err)
	}
	log.Infof("app: %s: authenticated", s.name)

	if err := s.identify(ctx, ch); err != nil {
		return fmt.Errorf("app: %s: identification: %w", s.name, err)
	}
	log.Infof("app: %s: identified", s.name)
	return nil
}

func (s *Session) authenticate(ctx context.Context, ch <-chan csm.Message) error {
	for {
		msg, err := recv(ctx, ch)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *catalogue.RequestAuthenticationCertificate:
			cert, err := s.coproc.Certificate(ctx)
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}
			if err := s.send(ctx, &catalogue.AuthenticationCertificate{Certificate: cert}); err != nil {
				return err
			}
		case *catalogue.RequestAuthenticationChallengeResponse:
			resp, err := s.coproc.ChallengeResponse(ctx, m.Challenge)
			if err != nil {
				return fmt.Errorf("challenge response: %w", err)
			}
			if err := s.send(ctx, &catalogue.AuthenticationResponse{Response: resp}); err != nil {
				return err
			}
		case *catalogue.AuthenticationSucceeded:
			return nil
		case *catalogue.AuthenticationFailed:
			return fmt.Errorf("device reported authentication failure")
		default:
			return fmt.Errorf("unexpected message 0x%04X during authentication", msg.MsgID())
		}
	}
}

func (s *Session) identify(ctx context.Context, ch <-chan csm.Message) error {
	for {
		msg, err := recv(ctx, ch)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *catalogue.StartIdentification:
			if err := s.send(ctx, s.identity); err != nil {
				return err
			}
		case *catalogue.IdentificationAccepted:
			return nil
		case *catalogue.IdentificationRejected:
			return fmt.Errorf("device rejected identification: %s", rejectedFields(m))
		default:
			return fmt.Errorf("unexpected message 0x%04X during identification", msg.MsgID())
		}
	}
}

func (s *Session) send(ctx context.Context, msg csm.Message) error {
	return s.manager.SendControl(ctx, s.name, msg)
}

func recv(ctx context.Context, ch <-chan csm.Message) (csm.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("control stream closed")
		}
		return msg, nil
	}
}

// rejectedFields lists which IdentificationInformation fields the
// device flagged, for a readable rejection error.
func rejectedFields(r *catalogue.IdentificationRejected) string {
	set := func(b *bool) bool { return b != nil && *b }
	var names []string
	add := func(name string, b *bool) {
		if set(b) {
			names = append(names, name)
		}
	}
	add("name", r.Name)
	add("model_identifier", r.ModelIdentifier)
	add("manufacturer", r.Manufacturer)
	add("serial_number", r.SerialNumber)
	add("firmware_version", r.FirmwareVersion)
	add("hardware_version", r.HardwareVersion)
	add("messages_sent_by_accessory", r.MessagesSentByAccessory)
	add("messages_received_from_accessory", r.MessagesReceivedFromAccessory)
	add("power_providing_capability", r.PowerProvidingCapability)
	add("maximum_current_drawn_from_device", r.MaximumCurrentDrawnFromDevice)
	add("supported_external_accessory_protocol", r.SupportedExternalAccessoryProtocol)
	add("app_match_team_id", r.AppMatchTeamID)
	add("current_language", r.CurrentLanguage)
	add("supported_language", r.SupportedLanguage)
	add("serial_transport_component", r.SerialTransportComponent)
	add("usb_device_transport_component", r.USBDeviceTransportComponent)
	add("usb_host_transport_component", r.USBHostTransportComponent)
	add("bluetooth_transport_component", r.BluetoothTransportComponent)
	add("vehicle_information_component", r.VehicleInformationComponent)
	add("vehicle_status_component", r.VehicleStatusComponent)
	add("wireless_car_play_transport_component", r.WirelessCarPlayTransportComponent)
	if len(names) == 0 {
		return "unspecified"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}
