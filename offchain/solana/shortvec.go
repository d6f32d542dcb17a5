package solana

// maxShortVecLen is the largest length a compact-u16 can carry.
const maxShortVecLen = 0xffff

func encodeShortVecLen(n int) []byte {
	if n < 0 || n > maxShortVecLen {
		panic("encodeShortVecLen: length out of range")
	}
	v := uint16(n)
	out := make([]byte, 0, 3)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			out = append(out, b)
			break
		}
		out = append(out, b|0x80)
	}
	return out
}
