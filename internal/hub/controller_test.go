package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/quodana/toylink/internal/ble"
	"github.com/quodana/toylink/internal/protocol"
)

// connectController brings up a hub with one emulated device and returns its
// controller and mock connection.
func connectController(t *testing.T, name, addr string) (*Controller, *mockConnection) {
	t.Helper()
	h, adapter := newTestHub(t, []ble.Advertisement{{Name: name, Address: addr}}, fastOptions())
	if _, err := h.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	ctrl, err := h.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return ctrl, adapter.connection(addr)
}

func TestControllerClampsLevels(t *testing.T) {
	ctrl, conn := connectController(t, "LVS-Lush", addrFlexer)

	if err := ctrl.SetVibration(25); err != nil {
		t.Fatalf("SetVibration(25) error = %v", err)
	}
	if err := ctrl.SetVibration(-5); err != nil {
		t.Fatalf("SetVibration(-5) error = %v", err)
	}
	frames := conn.txChar.frames()
	want := []string{"Vibrate:20;", "Vibrate:0;"}
	if len(frames) != 2 || frames[0] != want[0] || frames[1] != want[1] {
		t.Errorf("frames = %v, want %v", frames, want)
	}
}

func TestControllerAirPumpScaling(t *testing.T) {
	ctrl, conn := connectController(t, "LVS-Max", addrHush)

	// The pump's native range is 0-5; input uses the common 0-20 scale.
	if err := ctrl.SetAir(12); err != nil {
		t.Fatalf("SetAir(12) error = %v", err)
	}
	if err := ctrl.SetAir(99); err != nil {
		t.Fatalf("SetAir(99) error = %v", err)
	}
	frames := conn.txChar.frames()
	want := []string{"Air:Level:3;", "Air:Level:5;"}
	if len(frames) != 2 || frames[0] != want[0] || frames[1] != want[1] {
		t.Errorf("frames = %v, want %v", frames, want)
	}
}

func TestControllerRefusesUnsupportedAxis(t *testing.T) {
	ctrl, conn := connectController(t, "LVS-Lush", addrFlexer)

	err := ctrl.SetRotation(10)
	var cerr *UnsupportedCapabilityError
	if !errors.As(err, &cerr) {
		t.Fatalf("SetRotation() error = %v, want *UnsupportedCapabilityError", err)
	}
	if cerr.Model != "Lush" || cerr.Capability != protocol.CapRotate {
		t.Errorf("error = %+v", cerr)
	}
	if n := len(conn.txChar.frames()); n != 0 {
		t.Errorf("%d frames written for a refused command, want 0", n)
	}
}

func TestRotateChangeDirection(t *testing.T) {
	ctrl, conn := connectController(t, "LVS-Nora", addrFlexer)
	if err := ctrl.RotateChangeDirection(); err != nil {
		t.Fatalf("RotateChangeDirection() error = %v", err)
	}
	if frames := conn.txChar.frames(); len(frames) != 1 || frames[0] != "RotateChange;" {
		t.Errorf("frames = %v, want [RotateChange;]", frames)
	}

	lush, lushConn := connectController(t, "LVS-Lush", addrHush)
	var cerr *UnsupportedCapabilityError
	if err := lush.RotateChangeDirection(); !errors.As(err, &cerr) {
		t.Errorf("RotateChangeDirection() on Lush = %v, want *UnsupportedCapabilityError", err)
	}
	if n := len(lushConn.txChar.frames()); n != 0 {
		t.Errorf("%d frames written for a refused command, want 0", n)
	}
}

func TestControllerStopZeroesAllAxes(t *testing.T) {
	ctrl, conn := connectController(t, "LVS-Nora", addrFlexer)
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	frames := conn.txChar.frames()
	want := []string{"Vibrate:0;", "Rotate:0;"}
	if len(frames) != 2 || frames[0] != want[0] || frames[1] != want[1] {
		t.Errorf("frames = %v, want %v", frames, want)
	}
}

func TestControllerDiagnostics(t *testing.T) {
	ctrl, _ := connectController(t, "LVS-Flexer", addrFlexer)

	battery, err := ctrl.Battery()
	if err != nil || battery != 85 {
		t.Errorf("Battery() = %d, %v; want 85, nil", battery, err)
	}
	status, err := ctrl.Status()
	if err != nil || status != 2 {
		t.Errorf("Status() = %d, %v; want 2, nil", status, err)
	}
	batch, err := ctrl.BatchNumber()
	if err != nil || batch != 241015 {
		t.Errorf("BatchNumber() = %d, %v; want 241015, nil", batch, err)
	}
	info, err := ctrl.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Type != "C" || info.Firmware != 11 || info.Address != "0082059AD3BD" {
		t.Errorf("Info() = %+v", info)
	}
}

func TestControllerPowerOffCommand(t *testing.T) {
	ctrl, conn := connectController(t, "LVS-Flexer", addrFlexer)
	if err := ctrl.PowerOff(); err != nil {
		t.Fatalf("PowerOff() error = %v", err)
	}
	if frames := conn.txChar.frames(); len(frames) != 1 || frames[0] != "PowerOff;" {
		t.Errorf("frames = %v, want [PowerOff;]", frames)
	}
}

func TestControllerDirect(t *testing.T) {
	ctrl, _ := connectController(t, "LVS-Flexer", addrFlexer)
	resp, err := ctrl.Direct(protocol.Command{Op: protocol.OpBattery})
	if err != nil {
		t.Fatalf("Direct() error = %v", err)
	}
	if resp.Kind != protocol.RespValue || resp.Value != 85 {
		t.Errorf("Direct() response = %+v, want value 85", resp)
	}
}
