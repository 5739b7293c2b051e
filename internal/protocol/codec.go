// Package protocol implements the reverse-engineered Lovense wire protocol:
// command framing, response parsing, and the static per-model capability
// table. The codec is pure — no I/O, no retries, no state.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator ends every command and response frame on the wire.
const Terminator = ";"

// Opcode identifies a vendor command. The wire token for each opcode matches
// the reverse-engineered reference captures.
type Opcode int

const (
	OpVibrate Opcode = iota
	OpRotate
	OpRotateChange
	OpThrust
	OpDepth
	OpAir
	OpOscillate
	OpFinger
	OpSuck
	OpBattery
	OpDeviceType
	OpStatus
	OpGetBatch
	OpPowerOff
)

// opcodeTokens maps opcodes to their wire tokens. "Air:Level" contains the
// parameter delimiter itself, so ParseCommand matches two-segment tokens
// before single-segment ones.
var opcodeTokens = map[Opcode]string{
	OpVibrate:      "Vibrate",
	OpRotate:       "Rotate",
	OpRotateChange: "RotateChange",
	OpThrust:       "Thrusting",
	OpDepth:        "Depth",
	OpAir:          "Air:Level",
	OpOscillate:    "Oscillate",
	OpFinger:       "Finger",
	OpSuck:         "Suck",
	OpBattery:      "Battery",
	OpDeviceType:   "DeviceType",
	OpStatus:       "Status",
	OpGetBatch:     "GetBatch",
	OpPowerOff:     "PowerOff",
}

// Token returns the wire token for the opcode, or "" for an unknown opcode.
func (o Opcode) Token() string { return opcodeTokens[o] }

func (o Opcode) String() string {
	if tok, ok := opcodeTokens[o]; ok {
		return tok
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

// Command is an opcode with its ordered numeric parameters.
type Command struct {
	Op   Opcode
	Args []int
}

// Encode serializes a command into its wire frame. Encoding is
// deterministic: the same (opcode, args) pair always yields the same bytes.
// Encoding an opcode without a wire token is a programmer error and panics.
func Encode(cmd Command) []byte {
	tok, ok := opcodeTokens[cmd.Op]
	if !ok {
		panic(fmt.Sprintf("protocol: encode of unknown opcode %d", int(cmd.Op)))
	}
	var b strings.Builder
	b.WriteString(tok)
	for _, arg := range cmd.Args {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(arg))
	}
	b.WriteString(Terminator)
	return []byte(b.String())
}

// ParseCommand decodes a command frame back into its semantic fields. It is
// the inverse of Encode for every supported opcode and exists for frame
// inspection and loopback testing against simulated devices.
func ParseCommand(frame []byte) (Command, error) {
	body := strings.TrimSuffix(string(frame), Terminator)
	if body == "" {
		return Command{}, &ProtocolError{Raw: frame, Reason: "empty command frame"}
	}
	segs := strings.Split(body, ":")

	// Two-segment tokens ("Air:Level") shadow single-segment ones.
	var tokLen int
	op, ok := opcodeByToken(segs, 2)
	if ok {
		tokLen = 2
	} else if op, ok = opcodeByToken(segs, 1); ok {
		tokLen = 1
	} else {
		return Command{}, &ProtocolError{Raw: frame, Reason: "unknown command token"}
	}

	cmd := Command{Op: op}
	for _, seg := range segs[tokLen:] {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return Command{}, &ProtocolError{Raw: frame, Reason: fmt.Sprintf("non-numeric parameter %q", seg)}
		}
		cmd.Args = append(cmd.Args, n)
	}
	return cmd, nil
}

func opcodeByToken(segs []string, n int) (Opcode, bool) {
	if len(segs) < n {
		return 0, false
	}
	want := strings.Join(segs[:n], ":")
	for op, tok := range opcodeTokens {
		if tok == want {
			return op, true
		}
	}
	return 0, false
}

// ResponseKind classifies a parsed device response.
type ResponseKind int

const (
	// RespAck is the bare "OK" acknowledgement for control commands.
	RespAck ResponseKind = iota
	// RespValue is a numeric payload (battery level, status code, batch
	// number). Battery responses after a reconnect carry an "s" prefix;
	// the codec strips it and keeps the raw text.
	RespValue
	// RespDeviceInfo is the "Type:Firmware:Address" triplet returned by
	// the DeviceType query.
	RespDeviceInfo
	// RespPowerOff is the unsolicited notification sent when the device
	// is switched off with its physical button.
	RespPowerOff
)

// Response is a decoded device→host frame.
type Response struct {
	Kind  ResponseKind
	Value int    // RespValue only
	Raw   string // frame body with the terminator stripped

	// RespDeviceInfo fields.
	DeviceType string
	Firmware   int
	Address    string
}

// ParseResponse decodes a raw notification payload from the device.
// Malformed input yields a *ProtocolError describing the unparseable bytes;
// the caller cannot fix that without device-side state change.
func ParseResponse(data []byte) (Response, error) {
	body := strings.TrimSuffix(strings.TrimSpace(string(data)), Terminator)
	resp := Response{Raw: body}

	switch {
	case body == "":
		return Response{}, &ProtocolError{Raw: data, Reason: "empty response frame"}
	case body == "OK":
		resp.Kind = RespAck
		return resp, nil
	case strings.EqualFold(body, "POWEROFF"):
		resp.Kind = RespPowerOff
		return resp, nil
	}

	// Numeric payload, allowing the reconnect "s" prefix quirk.
	if n, err := strconv.Atoi(strings.TrimPrefix(body, "s")); err == nil {
		resp.Kind = RespValue
		resp.Value = n
		return resp, nil
	}

	// "C:11:0082059AD3BD" device-type triplet.
	if parts := strings.Split(body, ":"); len(parts) == 3 {
		fw, err := strconv.Atoi(parts[1])
		if err == nil && parts[0] != "" && parts[2] != "" {
			resp.Kind = RespDeviceInfo
			resp.DeviceType = parts[0]
			resp.Firmware = fw
			resp.Address = parts[2]
			return resp, nil
		}
	}

	return Response{}, &ProtocolError{Raw: data, Reason: "unrecognized response"}
}

// ProtocolError reports a frame that could not be decoded. It carries the
// raw byte sequence for diagnostics.
type ProtocolError struct {
	Raw    []byte
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %q", e.Reason, e.Raw)
}
