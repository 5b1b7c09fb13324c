package convert

// PadLength returns how many units must be added to total to reach the next
// multiple of frameLen. It is zero when total is already aligned.
func PadLength(total, frameLen int) int {
	if frameLen <= 0 {
		return 0
	}
	return (frameLen - total%frameLen) % frameLen
}

// PadFrame brings the first n samples of buf up to frameLen samples of format
// f, filling the extension with f's silence code. When n already equals
// frameLen, buf[:n] is returned without allocating. Otherwise the result is a
// new buffer of exactly frameLen*f.Width() bytes; buf is not modified.
func PadFrame(buf []byte, n, frameLen int, f SampleFormat) []byte {
	w := f.Width()
	if n == frameLen {
		return buf[:n*w]
	}
	out := make([]byte, frameLen*w)
	copied := copy(out, buf[:n*w])
	FillSilence(out[copied:], f)
	return out
}

// FillSilence overwrites b with repeated silence codes of f. A trailing
// partial sample gets the leading bytes of the code.
func FillSilence(b []byte, f SampleFormat) {
	code := f.Silence()
	for i := 0; i < len(b); i += len(code) {
		copy(b[i:], code)
	}
}
