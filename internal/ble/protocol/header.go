package protocol

import "encoding/binary"

// BlockHeader is the 16-byte envelope in front of every chunk.
type BlockHeader struct {
	Magic     uint32
	Direction Direction
	Size      uint8 // whole block, header included
}

// AppendTo appends the wire form of h to buf. Reserved bytes are zero.
func (h BlockHeader) AppendTo(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, h.Magic)
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.Direction))
	buf = append(buf, h.Size)
	var reserved [9]byte
	return append(buf, reserved[:]...)
}

// parseBlockHeader reads a header from the first BlockHeaderSize bytes of b.
// The caller guarantees len(b) >= BlockHeaderSize.
func parseBlockHeader(b []byte) BlockHeader {
	return BlockHeader{
		Magic:     binary.BigEndian.Uint32(b[0:4]),
		Direction: Direction(binary.BigEndian.Uint16(b[4:6])),
		Size:      b[6],
	}
}

// ChunkHeader is the 6-byte SysEx header that opens a chunk.
type ChunkHeader struct {
	Start    byte
	SysexID  byte
	Sequence uint8
	Checksum byte
	Opcode   Opcode
}

// AppendTo appends the wire form of h to buf.
func (h ChunkHeader) AppendTo(buf []byte) []byte {
	return append(buf, h.Start, h.SysexID, h.Sequence, h.Checksum, h.Opcode.Command, h.Opcode.SubCommand)
}

// parseChunkHeader reads a header from the first ChunkHeaderSize bytes of b.
func parseChunkHeader(b []byte) ChunkHeader {
	return ChunkHeader{
		Start:    b[0],
		SysexID:  b[1],
		Sequence: b[2],
		Checksum: b[3],
		Opcode:   Opcode{Command: b[4], SubCommand: b[5]},
	}
}
