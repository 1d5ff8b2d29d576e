package adv

import "fmt"

type uuidKind uint8

const (
	kindNone uuidKind = iota
	kind16
	kind32
	kind128
)

// ServiceUUID is a 16-, 32- or 128-bit service UUID. Two values are equal
// only when they have the same width and value.
type ServiceUUID struct {
	kind  uuidKind
	short uint32
	long  [16]byte
}

// UUID16 returns a 16-bit service UUID.
func UUID16(v uint16) ServiceUUID {
	return ServiceUUID{kind: kind16, short: uint32(v)}
}

// UUID32 returns a 32-bit service UUID.
func UUID32(v uint32) ServiceUUID {
	return ServiceUUID{kind: kind32, short: v}
}

// UUID128 returns a 128-bit service UUID. b is in over-the-air
// (little-endian) byte order, as it appears in an advertisement.
func UUID128(b [16]byte) ServiceUUID {
	return ServiceUUID{kind: kind128, long: b}
}

// Width returns the UUID size in bits, or 0 for the zero value.
func (u ServiceUUID) Width() int {
	switch u.kind {
	case kind16:
		return 16
	case kind32:
		return 32
	case kind128:
		return 128
	}
	return 0
}

func (u ServiceUUID) String() string {
	switch u.kind {
	case kind16:
		return fmt.Sprintf("0x%04X", u.short)
	case kind32:
		return fmt.Sprintf("0x%08X", u.short)
	case kind128:
		var b [16]byte
		for i := range b {
			b[i] = u.long[15-i]
		}
		return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
	}
	return "<none>"
}

// AppendField appends one AD structure to p. Payloads longer than 254
// bytes cannot be represented and are truncated.
func AppendField(p []byte, typ byte, payload []byte) []byte {
	if len(payload) > 254 {
		payload = payload[:254]
	}
	p = append(p, byte(len(payload)+1), typ)
	return append(p, payload...)
}

// AppendUUID16List appends a complete 16-bit service UUID list.
func AppendUUID16List(p []byte, uuids ...uint16) []byte {
	payload := make([]byte, 0, 2*len(uuids))
	for _, u := range uuids {
		payload = append(payload, byte(u), byte(u>>8))
	}
	return AppendField(p, TypeAllUUID16, payload)
}
