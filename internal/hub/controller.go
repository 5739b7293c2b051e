package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/quodana/toylink/internal/identity"
	"github.com/quodana/toylink/internal/protocol"
	"github.com/quodana/toylink/internal/session"
)

// UnsupportedCapabilityError reports a command for an axis the model does
// not expose. Raised before anything touches the transport.
type UnsupportedCapabilityError struct {
	Model      string
	Capability protocol.Capability
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("hub: %s does not support %s", e.Model, e.Capability)
}

// DeviceInfo is the decoded DeviceType query result.
type DeviceInfo struct {
	Type     string
	Firmware int
	Address  string
}

// Controller is the capability-checked command surface for one connected
// device. Obtained from Hub.Connect; valid until the session ends.
type Controller struct {
	model protocol.Model
	id    identity.Identity
	sess  *session.Session
	pace  time.Duration // inter-command wait for multi-command helpers
}

func newController(model protocol.Model, id identity.Identity, sess *session.Session, pace time.Duration) *Controller {
	return &Controller{model: model, id: id, sess: sess, pace: pace}
}

// Model returns the device's capability entry.
func (t *Controller) Model() protocol.Model { return t.model }

// Identity returns the resolved identity the controller was built from.
func (t *Controller) Identity() identity.Identity { return t.id }

// Address returns the device address.
func (t *Controller) Address() string { return t.sess.Addr() }

// SetVibration sets the vibration level, clamped to 0-20.
func (t *Controller) SetVibration(level int) error {
	return t.drive(protocol.CapVibrate, level)
}

// SetRotation sets the rotation speed, clamped to 0-20.
func (t *Controller) SetRotation(level int) error {
	return t.drive(protocol.CapRotate, level)
}

// SetThrust sets the thrusting speed, clamped to 0-20.
func (t *Controller) SetThrust(level int) error {
	return t.drive(protocol.CapThrust, level)
}

// SetDepth sets the stroke depth, clamped to 0-20.
func (t *Controller) SetDepth(level int) error {
	return t.drive(protocol.CapDepth, level)
}

// SetAir sets the air pump level. Input uses the common 0-20 scale and is
// mapped down to the pump's native 0-5 range.
func (t *Controller) SetAir(level int) error {
	return t.drive(protocol.CapAir, level)
}

// SetOscillation sets the oscillation speed, clamped to 0-20.
func (t *Controller) SetOscillation(level int) error {
	return t.drive(protocol.CapOscillate, level)
}

// SetFingering sets the fingering speed, clamped to 0-20.
func (t *Controller) SetFingering(level int) error {
	return t.drive(protocol.CapFinger, level)
}

// SetSuction sets the suction level, clamped to 0-20.
func (t *Controller) SetSuction(level int) error {
	return t.drive(protocol.CapSuck, level)
}

// RotateChangeDirection toggles the rotation direction on models that
// support it.
func (t *Controller) RotateChangeDirection() error {
	if !t.model.ChangeDirection {
		return &UnsupportedCapabilityError{Model: t.model.Name, Capability: protocol.CapRotate}
	}
	_, err := t.execAck(protocol.Command{Op: protocol.OpRotateChange})
	return err
}

// Stop zeroes every axis the model exposes. Later axes wait out the command
// interval instead of surfacing a rate-limit refusal; the first real error
// is returned after all axes were attempted.
func (t *Controller) Stop() error {
	var firstErr error
	for i, axis := range t.model.Axes {
		if i > 0 {
			time.Sleep(t.pace)
		}
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			err = t.drive(axis, 0)
			if !errors.Is(err, session.ErrRateLimited) {
				break
			}
			time.Sleep(t.pace)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Battery returns the battery level as a percentage.
func (t *Controller) Battery() (int, error) {
	resp, err := t.execValue(protocol.Command{Op: protocol.OpBattery})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Status returns the device status code (2 means normal operation).
func (t *Controller) Status() (int, error) {
	resp, err := t.execValue(protocol.Command{Op: protocol.OpStatus, Args: []int{1}})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// BatchNumber returns the production batch number (YYMMDD).
func (t *Controller) BatchNumber() (int, error) {
	resp, err := t.execValue(protocol.Command{Op: protocol.OpGetBatch})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Info returns the device type, firmware version, and reported address.
func (t *Controller) Info() (DeviceInfo, error) {
	resp, err := t.sess.Execute(protocol.Command{Op: protocol.OpDeviceType})
	if err != nil {
		return DeviceInfo{}, err
	}
	if resp.Kind != protocol.RespDeviceInfo {
		return DeviceInfo{}, fmt.Errorf("hub: unexpected DeviceType response %q", resp.Raw)
	}
	return DeviceInfo{Type: resp.DeviceType, Firmware: resp.Firmware, Address: resp.Address}, nil
}

// PowerOff switches the device off. It can only be turned back on with its
// physical button.
func (t *Controller) PowerOff() error {
	_, err := t.execAck(protocol.Command{Op: protocol.OpPowerOff})
	return err
}

// Direct sends an arbitrary command through the session and returns the raw
// decoded response. No capability check; the level clamp is skipped too.
func (t *Controller) Direct(cmd protocol.Command) (protocol.Response, error) {
	return t.sess.Execute(cmd)
}

// drive clamps and sends one level command for the given axis.
func (t *Controller) drive(axis protocol.Capability, level int) error {
	if !t.model.Supports(axis) {
		return &UnsupportedCapabilityError{Model: t.model.Name, Capability: axis}
	}
	level = clamp(level, 0, protocol.MaxLevel)
	if axis == protocol.CapAir {
		// The pump's native range is 0-5.
		level = clamp(level/4, 0, protocol.AirMaxLevel)
	}
	_, err := t.execAck(protocol.Command{Op: axis.Opcode(), Args: []int{level}})
	return err
}

// execAck sends a command and requires the "OK" acknowledgement.
func (t *Controller) execAck(cmd protocol.Command) (protocol.Response, error) {
	resp, err := t.sess.Execute(cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	if resp.Kind != protocol.RespAck {
		return protocol.Response{}, fmt.Errorf("hub: %s not acknowledged, device said %q", cmd.Op, resp.Raw)
	}
	return resp, nil
}

// execValue sends a command and requires a numeric payload.
func (t *Controller) execValue(cmd protocol.Command) (protocol.Response, error) {
	resp, err := t.sess.Execute(cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	if resp.Kind != protocol.RespValue {
		return protocol.Response{}, fmt.Errorf("hub: expected numeric reply to %s, device said %q", cmd.Op, resp.Raw)
	}
	return resp, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
