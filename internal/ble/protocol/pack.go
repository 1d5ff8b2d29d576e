package protocol

// Pack7 encodes raw so that every output byte is below 0x80. Each group of
// up to seven input bytes becomes a mask byte (bit i set when byte i had its
// high bit set) followed by the group's bytes with the high bit cleared.
func Pack7(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	out := make([]byte, 0, len(raw)+(len(raw)+packGroupSize-1)/packGroupSize)
	for i := 0; i < len(raw); i += packGroupSize {
		group := raw[i:min(i+packGroupSize, len(raw))]
		maskAt := len(out)
		out = append(out, 0)
		var mask byte
		for bit, b := range group {
			if b&0x80 != 0 {
				mask |= 1 << bit
			}
			out = append(out, b&0x7F)
		}
		out[maskAt] = mask
	}
	return out
}

// Unpack7 reverses Pack7. A trailing mask byte with no data bytes after it
// contributes nothing.
func Unpack7(packed []byte) []byte {
	if len(packed) == 0 {
		return nil
	}
	out := make([]byte, 0, len(packed))
	for i := 0; i < len(packed); {
		mask := packed[i]
		i++
		for bit := 0; bit < packGroupSize && i < len(packed); bit++ {
			b := packed[i]
			if mask&(1<<bit) != 0 {
				b |= 0x80
			}
			out = append(out, b)
			i++
		}
	}
	return out
}

// Checksum is the XOR of all packed payload bytes of a chunk.
func Checksum(packed []byte) byte {
	var sum byte
	for _, b := range packed {
		sum ^= b
	}
	return sum
}
