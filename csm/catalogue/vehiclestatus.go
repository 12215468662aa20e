package catalogue

import "iap2accessory/csm"

const (
	MsgStartVehicleStatusUpdates = 0xA100
	MsgVehicleStatusUpdate       = 0xA101
	MsgStopVehicleStatusUpdates  = 0xA102
)

type StartVehicleStatusUpdates struct{}

func (*StartVehicleStatusUpdates) MsgID() uint16       { return MsgStartVehicleStatusUpdates }
func (*StartVehicleStatusUpdates) Schema() []csm.Param { return nil }

type VehicleStatusUpdate struct {
	Range              uint16
	OutsideTemperature int16
	RangeWarning       bool
}

func (*VehicleStatusUpdate) MsgID() uint16 { return MsgVehicleStatusUpdate }
func (m *VehicleStatusUpdate) Schema() []csm.Param {
	return []csm.Param{
		csm.ReqU16(3, "range", &m.Range),
		csm.ReqI16(4, "outside_temperature", &m.OutsideTemperature),
		csm.ReqBool(5, "range_warning", &m.RangeWarning),
	}
}

type StopVehicleStatusUpdates struct{}

func (*StopVehicleStatusUpdates) MsgID() uint16       { return MsgStopVehicleStatusUpdates }
func (*StopVehicleStatusUpdates) Schema() []csm.Param { return nil }

func init() {
	csm.Register(MsgStartVehicleStatusUpdates, func() csm.Message { return &StartVehicleStatusUpdates{} })
	csm.Register(MsgVehicleStatusUpdate, func() csm.Message { return &VehicleStatusUpdate{} })
	csm.Register(MsgStopVehicleStatusUpdates, func() csm.Message { return &StopVehicleStatusUpdates{} })
}
