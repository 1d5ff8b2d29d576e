package protocol

import (
	"fmt"
	"unicode/utf8"
)

// Opcodes understood by the amp.
var (
	OpSetHardwarePreset = Opcode{0x01, 0x38}
	OpGetHardwarePreset = Opcode{0x02, 0x10}
	OpGetAmpName        = Opcode{0x02, 0x11}
	OpGetSerialNumber   = Opcode{0x02, 0x23}

	OpHardwarePreset = Opcode{0x03, 0x10}
	OpAmpName        = Opcode{0x03, 0x11}
	OpSerialNumber   = Opcode{0x03, 0x23}
)

// CommandAck is the command byte of acknowledgements. The sub-command
// echoes the acknowledged request.
const CommandAck byte = 0x04

// HardwarePresets is the number of preset slots on the amp.
const HardwarePresets = 4

// AppToDeviceMsg is a request sent to the amp.
type AppToDeviceMsg interface {
	Opcode() Opcode
	// MarshalPayload returns the unpacked payload bytes, possibly empty.
	MarshalPayload() ([]byte, error)
}

// GetAmpName asks the amp for its user-visible name.
type GetAmpName struct{}

func (GetAmpName) Opcode() Opcode                  { return OpGetAmpName }
func (GetAmpName) MarshalPayload() ([]byte, error) { return nil, nil }

// GetSerialNumber asks the amp for its serial number.
type GetSerialNumber struct{}

func (GetSerialNumber) Opcode() Opcode                  { return OpGetSerialNumber }
func (GetSerialNumber) MarshalPayload() ([]byte, error) { return nil, nil }

// GetHardwarePreset asks which hardware preset slot is active.
type GetHardwarePreset struct{}

func (GetHardwarePreset) Opcode() Opcode                  { return OpGetHardwarePreset }
func (GetHardwarePreset) MarshalPayload() ([]byte, error) { return nil, nil }

// SetHardwarePreset switches the amp to preset slot 1..HardwarePresets.
type SetHardwarePreset struct {
	Preset uint8
}

func (SetHardwarePreset) Opcode() Opcode { return OpSetHardwarePreset }

func (m SetHardwarePreset) MarshalPayload() ([]byte, error) {
	if m.Preset < 1 || m.Preset > HardwarePresets {
		return nil, fmt.Errorf("protocol: hardware preset %d out of range 1..%d", m.Preset, HardwarePresets)
	}
	return []byte{0x00, m.Preset - 1}, nil
}

// DeviceToAppMsg is a decoded message from the amp.
type DeviceToAppMsg interface {
	Opcode() Opcode
	// Seq is the sequence number of the chunk that carried the message.
	Seq() uint8
}

// AmpName is the reply to GetAmpName.
type AmpName struct {
	Sequence uint8
	Name     string
}

func (AmpName) Opcode() Opcode { return OpAmpName }
func (m AmpName) Seq() uint8   { return m.Sequence }

// SerialNumber is the reply to GetSerialNumber.
type SerialNumber struct {
	Sequence uint8
	Serial   string
}

func (SerialNumber) Opcode() Opcode { return OpSerialNumber }
func (m SerialNumber) Seq() uint8   { return m.Sequence }

// HardwarePreset is the reply to GetHardwarePreset.
type HardwarePreset struct {
	Sequence uint8
	Preset   uint8 // 1-based
}

func (HardwarePreset) Opcode() Opcode { return OpHardwarePreset }
func (m HardwarePreset) Seq() uint8   { return m.Sequence }

// Ack acknowledges a set-type request.
type Ack struct {
	Sequence   uint8
	SubCommand byte
}

func (m Ack) Opcode() Opcode { return Opcode{CommandAck, m.SubCommand} }
func (m Ack) Seq() uint8     { return m.Sequence }

// unmarshal builds the message for a parsed frame.
func unmarshal(seq uint8, op Opcode, raw []byte) (DeviceToAppMsg, error) {
	switch {
	case op == OpAmpName:
		name, err := readString(raw)
		if err != nil {
			return nil, err
		}
		return AmpName{Sequence: seq, Name: name}, nil
	case op == OpSerialNumber:
		serial, err := readString(raw)
		if err != nil {
			return nil, err
		}
		return SerialNumber{Sequence: seq, Serial: serial}, nil
	case op == OpHardwarePreset:
		if len(raw) < 2 || raw[1] >= HardwarePresets {
			return nil, fmt.Errorf("%w: hardware preset %x", ErrPayload, raw)
		}
		return HardwarePreset{Sequence: seq, Preset: raw[1] + 1}, nil
	case op.Command == CommandAck:
		return Ack{Sequence: seq, SubCommand: op.SubCommand}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
}

// readString reads a length-prefixed UTF-8 string: raw[0] is the length and
// the bytes follow immediately.
func readString(raw []byte) (string, error) {
	if len(raw) < 1 {
		return "", fmt.Errorf("%w: missing string length", ErrPayload)
	}
	n := int(raw[0])
	if len(raw) < 1+n {
		return "", fmt.Errorf("%w: string length %d exceeds %d bytes", ErrPayload, n, len(raw)-1)
	}
	b := raw[1 : 1+n]
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrPayload)
	}
	return string(b), nil
}
