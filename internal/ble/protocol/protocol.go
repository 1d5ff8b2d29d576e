// Package protocol implements the amp's block framing: a 16-byte block
// header wrapping one SysEx-style chunk whose payload is 7-bit packed.
//
//	block  = header(16) chunk
//	header = magic(4) direction(2) size(1) reserved(9)
//	chunk  = 0xF0 sysex_id seq checksum cmd subcmd packed... 0xF7
//
// Multi-byte header fields are big-endian.
package protocol

import (
	"errors"
	"fmt"
)

// BlockMagic is the first four bytes of every block.
const BlockMagic uint32 = 0x01FE0000

// Frame layout.
const (
	SysexStart byte = 0xF0
	SysexEnd   byte = 0xF7
	SysexID    byte = 0x01

	BlockHeaderSize  = 16
	ChunkHeaderSize  = 6
	ChunkTrailerSize = 1
	MaxBlockSize     = 0xAD
	MinBlockSize     = BlockHeaderSize + ChunkHeaderSize + ChunkTrailerSize
	MaxChunkSize     = MaxBlockSize - BlockHeaderSize - ChunkHeaderSize - ChunkTrailerSize
	packGroupSize    = 7
)

// Direction tags a block as travelling to or from the amp.
type Direction uint16

const (
	DirToDevice   Direction = 0x53FE
	DirFromDevice Direction = 0x41FF
)

func (d Direction) String() string {
	switch d {
	case DirToDevice:
		return "to-device"
	case DirFromDevice:
		return "from-device"
	}
	return fmt.Sprintf("Direction(0x%04X)", uint16(d))
}

// Opcode is the (command, sub-command) pair carried in every chunk header.
type Opcode struct {
	Command    byte
	SubCommand byte
}

func (o Opcode) String() string {
	return fmt.Sprintf("%02X/%02X", o.Command, o.SubCommand)
}

// Reasons a block is rejected by ParseBlock and the decoder.
var (
	ErrShortBlock    = errors.New("protocol: block shorter than header, chunk header and trailer")
	ErrMagic         = errors.New("protocol: bad block magic")
	ErrDirection     = errors.New("protocol: unexpected direction")
	ErrBlockSize     = errors.New("protocol: declared block size out of range")
	ErrSysexStart    = errors.New("protocol: chunk does not start with 0xF0")
	ErrSysexID       = errors.New("protocol: unexpected sysex id")
	ErrTrailer       = errors.New("protocol: chunk does not end with 0xF7")
	ErrChecksum      = errors.New("protocol: checksum mismatch")
	ErrUnknownOpcode = errors.New("protocol: unrecognized opcode")
	ErrPayload       = errors.New("protocol: malformed payload")
)
