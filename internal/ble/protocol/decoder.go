package protocol

import "fmt"

// Frame is a block that passed framing checks.
type Frame struct {
	Direction Direction
	Sequence  uint8
	Checksum  byte
	Opcode    Opcode
	Packed    []byte // 7-bit packed payload, trailer excluded
}

// Payload returns the unpacked payload.
func (f Frame) Payload() []byte {
	return Unpack7(f.Packed)
}

// ParseBlock validates the block and chunk framing of b and returns the
// chunk it carries. Bytes past the block's declared size are ignored.
func ParseBlock(b []byte, want Direction) (Frame, error) {
	if len(b) < MinBlockSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortBlock, len(b))
	}

	hdr := parseBlockHeader(b)
	if hdr.Magic != BlockMagic {
		return Frame{}, fmt.Errorf("%w: 0x%08X", ErrMagic, hdr.Magic)
	}
	if hdr.Direction != want {
		return Frame{}, fmt.Errorf("%w: %s", ErrDirection, hdr.Direction)
	}
	size := int(hdr.Size)
	if size < MinBlockSize || size > len(b) {
		return Frame{}, fmt.Errorf("%w: %d (have %d bytes)", ErrBlockSize, size, len(b))
	}
	b = b[:size]

	ch := parseChunkHeader(b[BlockHeaderSize:])
	if ch.Start != SysexStart {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrSysexStart, ch.Start)
	}
	if ch.SysexID != SysexID {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrSysexID, ch.SysexID)
	}

	body := b[BlockHeaderSize+ChunkHeaderSize:]
	if body[len(body)-1] != SysexEnd {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrTrailer, body[len(body)-1])
	}
	packed := body[:len(body)-1]
	if sum := Checksum(packed); sum != ch.Checksum {
		return Frame{}, fmt.Errorf("%w: header 0x%02X, computed 0x%02X", ErrChecksum, ch.Checksum, sum)
	}

	return Frame{
		Direction: hdr.Direction,
		Sequence:  ch.Sequence,
		Checksum:  ch.Checksum,
		Opcode:    ch.Opcode,
		Packed:    packed,
	}, nil
}

// Decoder turns notification payloads from the amp into messages. The zero
// value is ready to use and holds no state.
type Decoder struct{}

// DecodeBlock decodes b, reporting why a block yields no message.
// Unrecognized opcodes return an error wrapping ErrUnknownOpcode.
func (Decoder) DecodeBlock(b []byte) (DeviceToAppMsg, error) {
	f, err := ParseBlock(b, DirFromDevice)
	if err != nil {
		return nil, err
	}
	return unmarshal(f.Sequence, f.Opcode, f.Payload())
}

// Decode returns the message carried by b, or false for any block that is
// malformed, fails its checksum, or carries an unrecognized opcode.
func (d Decoder) Decode(b []byte) (DeviceToAppMsg, bool) {
	msg, err := d.DecodeBlock(b)
	if err != nil {
		return nil, false
	}
	return msg, true
}
