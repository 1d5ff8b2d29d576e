package protocol

import "fmt"

// Encoder turns requests into blocks ready to be written to the amp.
//
// An Encoder holds the session's sequence counter, incremented once per
// emitted block and never reset. It is not safe for concurrent use; every
// sender in a session must go through the same Encoder.
type Encoder struct {
	next uint8
}

// NewEncoder returns an Encoder whose first block carries sequence 0.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// NextSequence returns the sequence number the next block will carry.
func (e *Encoder) NextSequence() uint8 {
	return e.next
}

// Encode serializes msg into one or more blocks. The blocks must be written
// in the returned order.
func (e *Encoder) Encode(msg AppToDeviceMsg) ([][]byte, error) {
	raw, err := msg.MarshalPayload()
	if err != nil {
		return nil, err
	}
	return e.EncodeCommand(msg.Opcode(), raw), nil
}

// EncodeCommand frames an arbitrary raw payload under op.
func (e *Encoder) EncodeCommand(op Opcode, raw []byte) [][]byte {
	packed := Pack7(raw)
	chunks := SplitPayload(packed, MaxChunkSize)

	blocks := make([][]byte, 0, len(chunks))
	for _, data := range chunks {
		seq := e.next
		e.next++
		blocks = append(blocks, AppendBlock(nil, DirToDevice, seq, op, data))
	}
	return blocks
}

// AppendBlock appends one complete block carrying an already packed chunk
// payload. The caller keeps len(packed) <= MaxChunkSize.
func AppendBlock(buf []byte, dir Direction, seq uint8, op Opcode, packed []byte) []byte {
	size := BlockHeaderSize + ChunkHeaderSize + len(packed) + ChunkTrailerSize
	buf = BlockHeader{
		Magic:     BlockMagic,
		Direction: dir,
		Size:      uint8(size),
	}.AppendTo(buf)
	buf = ChunkHeader{
		Start:    SysexStart,
		SysexID:  SysexID,
		Sequence: seq,
		Checksum: Checksum(packed),
		Opcode:   op,
	}.AppendTo(buf)
	buf = append(buf, packed...)
	return append(buf, SysexEnd)
}

// Describe renders a request for logs and status lines.
func Describe(msg AppToDeviceMsg) string {
	switch m := msg.(type) {
	case GetAmpName:
		return "Get amp name"
	case GetSerialNumber:
		return "Get serial number"
	case GetHardwarePreset:
		return "Get hardware preset"
	case SetHardwarePreset:
		return fmt.Sprintf("Set hardware preset: %d", m.Preset)
	}
	return fmt.Sprintf("Request %s", msg.Opcode())
}
