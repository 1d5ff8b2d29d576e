package protocol

// SplitPayload splits a packed payload into chunks of at most maxBytes.
// An empty payload still yields one empty chunk, since every message goes
// out as at least one block. maxBytes < 1 is treated as 1.
func SplitPayload(packed []byte, maxBytes int) [][]byte {
	if len(packed) == 0 {
		return [][]byte{{}}
	}
	if maxBytes < 1 {
		maxBytes = 1
	}

	chunks := make([][]byte, 0, (len(packed)+maxBytes-1)/maxBytes)
	for len(packed) > 0 {
		n := min(maxBytes, len(packed))
		chunks = append(chunks, packed[:n:n])
		packed = packed[n:]
	}
	return chunks
}
