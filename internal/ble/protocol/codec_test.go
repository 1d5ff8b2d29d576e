package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// deviceBlock builds a from-device block carrying raw under op.
func deviceBlock(seq uint8, op Opcode, raw []byte) []byte {
	return AppendBlock(nil, DirFromDevice, seq, op, Pack7(raw))
}

func TestEncodeGetAmpNameWireBytes(t *testing.T) {
	enc := NewEncoder()
	blocks, err := enc.Encode(GetAmpName{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	want := []byte{
		// block header: magic, direction, size 16+7, reserved
		0x01, 0xFE, 0x00, 0x00,
		0x53, 0xFE,
		0x17,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		// chunk header: start, sysex id, seq 0, checksum 0, command, sub-command
		0xF0, 0x01, 0x00, 0x00, 0x02, 0x11,
		0xF7,
	}
	if !bytes.Equal(blocks[0], want) {
		t.Errorf("Encode(GetAmpName) =\n  got  %x\n  want %x", blocks[0], want)
	}
}

func TestEncodeSetHardwarePreset(t *testing.T) {
	enc := NewEncoder()
	blocks, err := enc.Encode(SetHardwarePreset{Preset: 3})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	f, err := ParseBlock(blocks[0], DirToDevice)
	if err != nil {
		t.Fatalf("ParseBlock() error = %v", err)
	}
	if f.Opcode != OpSetHardwarePreset {
		t.Errorf("Opcode = %s, want %s", f.Opcode, OpSetHardwarePreset)
	}
	if got := f.Payload(); !bytes.Equal(got, []byte{0x00, 0x02}) {
		t.Errorf("Payload() = %x, want 0002", got)
	}
}

func TestEncodeSetHardwarePresetOutOfRange(t *testing.T) {
	enc := NewEncoder()
	for _, p := range []uint8{0, 5, 255} {
		if _, err := enc.Encode(SetHardwarePreset{Preset: p}); err == nil {
			t.Errorf("Encode(SetHardwarePreset{%d}) should fail", p)
		}
	}
	if enc.NextSequence() != 0 {
		t.Errorf("failed encodes consumed sequence numbers: next = %d", enc.NextSequence())
	}
}

func TestEncodeRecoversOpcodeAndSequence(t *testing.T) {
	msgs := []AppToDeviceMsg{
		GetAmpName{},
		SetHardwarePreset{Preset: 1},
		GetSerialNumber{},
		GetHardwarePreset{},
		SetHardwarePreset{Preset: 4},
	}
	enc := NewEncoder()
	var want uint8
	for _, m := range msgs {
		blocks, err := enc.Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T) error = %v", m, err)
		}
		for _, b := range blocks {
			f, err := ParseBlock(b, DirToDevice)
			if err != nil {
				t.Fatalf("ParseBlock(%T) error = %v", m, err)
			}
			if f.Opcode != m.Opcode() {
				t.Errorf("%T: Opcode = %s, want %s", m, f.Opcode, m.Opcode())
			}
			if f.Sequence != want {
				t.Errorf("%T: Sequence = %d, want %d", m, f.Sequence, want)
			}
			want++
		}
	}
}

func TestEncodeSequenceWraps(t *testing.T) {
	enc := NewEncoder()
	for i := 0; i < 255; i++ {
		enc.EncodeCommand(OpGetAmpName, nil)
	}
	last := enc.EncodeCommand(OpGetAmpName, nil)
	wrapped := enc.EncodeCommand(OpGetAmpName, nil)

	f1, _ := ParseBlock(last[0], DirToDevice)
	f2, _ := ParseBlock(wrapped[0], DirToDevice)
	if f1.Sequence != 255 || f2.Sequence != 0 {
		t.Errorf("sequences = %d, %d; want 255, 0", f1.Sequence, f2.Sequence)
	}
}

func TestEncodeLargePayloadSplits(t *testing.T) {
	raw := bytes.Repeat([]byte{0x80, 0x01, 0xFE, 0x7F, 0x00, 0x33, 0xCC}, 40) // 7 * 40 bytes
	packedLen := len(Pack7(raw))
	wantChunks := (packedLen + MaxChunkSize - 1) / MaxChunkSize

	enc := NewEncoder()
	blocks := enc.EncodeCommand(Opcode{0x01, 0x01}, raw)
	if len(blocks) != wantChunks {
		t.Fatalf("got %d blocks, want %d (packed %d bytes)", len(blocks), wantChunks, packedLen)
	}

	var packed []byte
	for i, b := range blocks {
		if len(b) > MaxBlockSize {
			t.Errorf("block[%d] is %d bytes, max %d", i, len(b), MaxBlockSize)
		}
		if int(b[6]) != len(b) {
			t.Errorf("block[%d] size byte = %d, len = %d", i, b[6], len(b))
		}
		f, err := ParseBlock(b, DirToDevice)
		if err != nil {
			t.Fatalf("block[%d] ParseBlock() error = %v", i, err)
		}
		if f.Sequence != uint8(i) {
			t.Errorf("block[%d] Sequence = %d", i, f.Sequence)
		}
		packed = append(packed, f.Packed...)
	}
	if got := Unpack7(packed); !bytes.Equal(got, raw) {
		t.Error("reassembled payload differs from input")
	}
}

func TestEncodeEmptyPayloadOneChunk(t *testing.T) {
	blocks := NewEncoder().EncodeCommand(Opcode{0x02, 0x11}, nil)
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if len(blocks[0]) != MinBlockSize {
		t.Errorf("empty block is %d bytes, want %d", len(blocks[0]), MinBlockSize)
	}
}

func TestDecodeAmpNameEndToEnd(t *testing.T) {
	enc := NewEncoder()
	req, err := enc.Encode(GetAmpName{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	f, _ := ParseBlock(req[0], DirToDevice)

	reply := deviceBlock(f.Sequence, OpAmpName, []byte{5, 'S', 'p', 'a', 'r', 'k'})
	msg, ok := Decoder{}.Decode(reply)
	if !ok {
		t.Fatal("Decode() returned no message")
	}
	name, ok := msg.(AmpName)
	if !ok {
		t.Fatalf("Decode() = %T, want AmpName", msg)
	}
	if name.Name != "Spark" || name.Sequence != f.Sequence {
		t.Errorf("Decode() = %+v, want {Sequence:%d Name:Spark}", name, f.Sequence)
	}
}

func TestDecodeMessages(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		raw  []byte
		want DeviceToAppMsg
	}{
		{"amp name", OpAmpName, []byte{8, 'S', 'p', 'a', 'r', 'k', ' ', '4', '0'}, AmpName{Sequence: 7, Name: "Spark 40"}},
		{"empty name", OpAmpName, []byte{0}, AmpName{Sequence: 7, Name: ""}},
		{"name ignores trailing bytes", OpAmpName, []byte{2, 'h', 'i', 0xFF}, AmpName{Sequence: 7, Name: "hi"}},
		{"utf8 name", OpAmpName, append([]byte{5}, "ámp!"...), AmpName{Sequence: 7, Name: "ámp!"}},
		{"serial", OpSerialNumber, append([]byte{10}, "S999C12345"...), SerialNumber{Sequence: 7, Serial: "S999C12345"}},
		{"preset", OpHardwarePreset, []byte{0x00, 0x03}, HardwarePreset{Sequence: 7, Preset: 4}},
		{"ack", Opcode{CommandAck, 0x38}, nil, Ack{Sequence: 7, SubCommand: 0x38}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decoder{}.DecodeBlock(deviceBlock(7, tt.op, tt.raw))
			if err != nil {
				t.Fatalf("DecodeBlock() error = %v", err)
			}
			if msg != tt.want {
				t.Errorf("DecodeBlock() = %#v, want %#v", msg, tt.want)
			}
		})
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	b := deviceBlock(1, Opcode{0x09, 0x99}, []byte{1, 2, 3})
	if msg, ok := (Decoder{}).Decode(b); ok {
		t.Errorf("Decode() = %#v, want no message", msg)
	}
	if _, err := (Decoder{}).DecodeBlock(b); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("DecodeBlock() error = %v, want ErrUnknownOpcode", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	good := deviceBlock(3, OpAmpName, []byte{5, 'S', 'p', 'a', 'r', 'k'})
	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name  string
		block []byte
		want  error
	}{
		{"nil", nil, ErrShortBlock},
		{"short", good[:MinBlockSize-1], ErrShortBlock},
		{"magic", mutate(func(b []byte) []byte { b[0] = 0x02; return b }), ErrMagic},
		{"little-endian magic", mutate(func(b []byte) []byte { copy(b, []byte{0x00, 0x00, 0xFE, 0x01}); return b }), ErrMagic},
		{"to-device direction", mutate(func(b []byte) []byte { b[4], b[5] = 0x53, 0xFE; return b }), ErrDirection},
		{"size too large", mutate(func(b []byte) []byte { b[6] = byte(len(b) + 1); return b }), ErrBlockSize},
		{"size too small", mutate(func(b []byte) []byte { b[6] = 5; return b }), ErrBlockSize},
		{"start byte", mutate(func(b []byte) []byte { b[16] = 0xF1; return b }), ErrSysexStart},
		{"sysex id", mutate(func(b []byte) []byte { b[17] = 0x02; return b }), ErrSysexID},
		{"checksum", mutate(func(b []byte) []byte { b[19] ^= 0x01; return b }), ErrChecksum},
		{"payload corrupted", mutate(func(b []byte) []byte { b[23] ^= 0x10; return b }), ErrChecksum},
		{"missing trailer", mutate(func(b []byte) []byte { b[len(b)-1] = 0x00; return b }), ErrTrailer},
		{"name overruns", deviceBlock(3, OpAmpName, []byte{9, 'S', 'p'}), ErrPayload},
		{"empty name payload", deviceBlock(3, OpAmpName, nil), ErrPayload},
		{"invalid utf8", deviceBlock(3, OpAmpName, []byte{2, 0xC3, 0x28}), ErrPayload},
		{"preset out of range", deviceBlock(3, OpHardwarePreset, []byte{0x00, 0x09}), ErrPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decoder{}.DecodeBlock(tt.block)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeBlock() error = %v, want %v", err, tt.want)
			}
			if msg != nil {
				t.Errorf("DecodeBlock() msg = %#v, want nil", msg)
			}
			if _, ok := (Decoder{}).Decode(tt.block); ok {
				t.Error("Decode() ok = true, want false")
			}
		})
	}
}

func TestDecodeIgnoresBytesPastDeclaredSize(t *testing.T) {
	b := deviceBlock(2, OpAmpName, []byte{2, 'o', 'k'})
	b = append(b, 0xDE, 0xAD)
	msg, ok := Decoder{}.Decode(b)
	if !ok {
		t.Fatal("Decode() returned no message")
	}
	if got := msg.(AmpName).Name; got != "ok" {
		t.Errorf("Name = %q, want %q", got, "ok")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(SetHardwarePreset{Preset: 2}); got != "Set hardware preset: 2" {
		t.Errorf("Describe() = %q", got)
	}
	if got := Describe(GetAmpName{}); got != "Get amp name" {
		t.Errorf("Describe() = %q", got)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(deviceBlock(0, OpAmpName, []byte{5, 'S', 'p', 'a', 'r', 'k'}))
	f.Add([]byte{0x01, 0xFE})
	f.Fuzz(func(t *testing.T, b []byte) {
		_, _ = Decoder{}.Decode(b)
	})
}
