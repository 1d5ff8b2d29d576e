// Package adv decodes BLE advertising payloads into a fixed-capacity record.
//
// It is the first code to see untrusted radio data, so Parse accepts any
// byte slice: a zero length byte or a structure that runs past the end of
// the buffer ends parsing, and entries beyond a field's capacity are dropped.
package adv

import "encoding/binary"

// AD structure types, from the Bluetooth Core Specification Supplement, Part A.
const (
	TypeFlags            byte = 0x01
	TypeSomeUUID16       byte = 0x02
	TypeAllUUID16        byte = 0x03
	TypeSomeUUID32       byte = 0x04
	TypeAllUUID32        byte = 0x05
	TypeSomeUUID128      byte = 0x06
	TypeAllUUID128       byte = 0x07
	TypeShortName        byte = 0x08
	TypeCompleteName     byte = 0x09
	TypeTxPower          byte = 0x0A
	TypeServiceData16    byte = 0x16
	TypeAppearance       byte = 0x19
	TypeManufacturerData byte = 0xFF
)

// Field capacities.
const (
	MaxUUID16        = 8
	MaxUUID32        = 4
	MaxUUID128       = 2
	MaxManufacturer  = 16
	MaxOther         = 4
	MaxOtherFieldLen = 16
)

// Field is an AD structure of a type with no dedicated slot in Data.
type Field struct {
	Type byte
	Len  int // stored payload length, at most MaxOtherFieldLen
	Data [MaxOtherFieldLen]byte
}

// Bytes returns the stored payload.
func (f Field) Bytes() []byte {
	return f.Data[:f.Len]
}

// Data is the decoded content of one advertisement. It is built once by
// Parse and not modified afterwards.
type Data struct {
	flags    byte
	hasFlags bool

	uuid16  [MaxUUID16]uint16
	n16     int
	uuid32  [MaxUUID32]uint32
	n32     int
	uuid128 [MaxUUID128][16]byte
	n128    int

	manufacturer [MaxManufacturer]byte
	nManuf       int

	other  [MaxOther]Field
	nOther int
}

// Parse decodes a sequence of length-prefixed AD structures.
func Parse(raw []byte) Data {
	var d Data
	i := 0
	for i < len(raw) {
		length := int(raw[i])
		if length == 0 || i+length >= len(raw) {
			break
		}
		typ := raw[i+1]
		payload := raw[i+2 : i+1+length]

		switch typ {
		case TypeFlags:
			if len(payload) == 1 {
				d.flags = payload[0]
				d.hasFlags = true
			}
		case TypeSomeUUID16, TypeAllUUID16:
			for j := 0; j+2 <= len(payload) && d.n16 < MaxUUID16; j += 2 {
				d.uuid16[d.n16] = binary.LittleEndian.Uint16(payload[j:])
				d.n16++
			}
		case TypeSomeUUID32, TypeAllUUID32:
			for j := 0; j+4 <= len(payload) && d.n32 < MaxUUID32; j += 4 {
				d.uuid32[d.n32] = binary.LittleEndian.Uint32(payload[j:])
				d.n32++
			}
		case TypeSomeUUID128, TypeAllUUID128:
			for j := 0; j+16 <= len(payload) && d.n128 < MaxUUID128; j += 16 {
				copy(d.uuid128[d.n128][:], payload[j:j+16])
				d.n128++
			}
		case TypeManufacturerData:
			d.nManuf += copy(d.manufacturer[d.nManuf:], payload)
		default:
			if d.nOther < MaxOther {
				f := Field{Type: typ}
				f.Len = copy(f.Data[:], payload)
				d.other[d.nOther] = f
				d.nOther++
			}
		}

		i += length + 1
	}
	return d
}

// Flags returns the flags byte, if the advertisement carried a well-formed one.
func (d Data) Flags() (byte, bool) {
	return d.flags, d.hasFlags
}

// UUIDs16 returns the 16-bit service UUIDs in advertisement order.
func (d Data) UUIDs16() []uint16 {
	return append([]uint16(nil), d.uuid16[:d.n16]...)
}

// UUIDs32 returns the 32-bit service UUIDs in advertisement order.
func (d Data) UUIDs32() []uint32 {
	return append([]uint32(nil), d.uuid32[:d.n32]...)
}

// UUIDs128 returns the 128-bit service UUIDs in advertisement order, each
// in over-the-air (little-endian) byte order.
func (d Data) UUIDs128() [][16]byte {
	return append([][16]byte(nil), d.uuid128[:d.n128]...)
}

// ManufacturerData returns up to MaxManufacturer bytes of manufacturer data.
func (d Data) ManufacturerData() []byte {
	return append([]byte(nil), d.manufacturer[:d.nManuf]...)
}

// Other returns the AD structures that have no dedicated slot.
func (d Data) Other() []Field {
	return append([]Field(nil), d.other[:d.nOther]...)
}

// LocalName returns the complete local name, falling back to the shortened one.
func (d Data) LocalName() string {
	var short string
	for _, f := range d.other[:d.nOther] {
		switch f.Type {
		case TypeCompleteName:
			return string(f.Bytes())
		case TypeShortName:
			if short == "" {
				short = string(f.Bytes())
			}
		}
	}
	return short
}

// IsAdvertisingService reports whether u appears in the service list of its
// own width. A 16-bit query never matches a 32- or 128-bit entry.
func (d Data) IsAdvertisingService(u ServiceUUID) bool {
	switch u.kind {
	case kind16:
		for _, v := range d.uuid16[:d.n16] {
			if v == uint16(u.short) {
				return true
			}
		}
	case kind32:
		for _, v := range d.uuid32[:d.n32] {
			if v == u.short {
				return true
			}
		}
	case kind128:
		for _, v := range d.uuid128[:d.n128] {
			if v == u.long {
				return true
			}
		}
	}
	return false
}
