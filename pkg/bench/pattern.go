package bench

// FillPattern writes the ramp i mod 256 into buf and returns it.
func FillPattern(buf []byte) []byte {
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

// PatternVerifier checks that a byte stream follows the ramp pattern from
// its first byte on, however the stream is split into chunks.
type PatternVerifier struct {
	offset uint64
}

// Offset returns the number of bytes verified so far.
func (v *PatternVerifier) Offset() uint64 { return v.offset }

// Check verifies the next chunk. It returns the stream offset of the first
// mismatching byte and false, or the offset after the chunk and true.
func (v *PatternVerifier) Check(chunk []byte) (uint64, bool) {
	for i, b := range chunk {
		if b != byte(v.offset+uint64(i)) {
			at := v.offset + uint64(i)
			v.offset += uint64(len(chunk))
			return at, false
		}
	}
	v.offset += uint64(len(chunk))
	return v.offset, true
}
