// Package slip implements SLIP (RFC 1055) framing as used by serial
// bootloaders.
//
// A frame on the wire is bounded by End bytes. Inside a frame, a literal
// End is sent as Esc EscEnd and a literal Esc as Esc EscEsc.
// Decoding never fails: malformed escapes pass through literally so a
// noisy link can resynchronize on the next delimiter.
package slip

// Special bytes.
const (
	End    byte = 0xc0
	Esc    byte = 0xdb
	EscEnd byte = 0xdc
	EscEsc byte = 0xdd
)

// EncodedLen returns the length of Encode(data).
func EncodedLen(data []byte) int {
	n := len(data) + 2
	for _, b := range data {
		if b == End || b == Esc {
			n++
		}
	}
	return n
}

// Encode wraps data into a frame.
func Encode(data []byte) []byte {
	out := make([]byte, 0, EncodedLen(data))
	out = append(out, End)
	for _, b := range data {
		switch b {
		case End:
			out = append(out, Esc, EscEnd)
		case Esc:
			out = append(out, Esc, EscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, End)
}

type scanState int

const (
	stateSeekStart scanState = iota // waiting for the opening End
	stateInFrame                    // waiting for the closing End
	stateComplete                   // both delimiters seen
)

// next computes the state after consuming b.
func (s scanState) next(b byte) scanState {
	switch s {
	case stateSeekStart:
		if b == End {
			return stateInFrame
		}
	case stateInFrame:
		if b == End {
			return stateComplete
		}
	}
	return s
}

// Decode extracts the first complete frame from data.
//
// If data holds no complete frame, frame is empty and leftOver is data
// itself. Otherwise frame is the de-escaped content between the first
// two End bytes and leftOver is everything after the closing End.
// leftOver shares the backing array of data.
func Decode(data []byte) (frame, leftOver []byte) {
	state := stateSeekStart
	start, end := 0, 0
	for i := 0; i < len(data) && state != stateComplete; i++ {
		prev := state
		if state = state.next(data[i]); state == prev {
			continue
		}
		switch state {
		case stateInFrame:
			start = i + 1
		case stateComplete:
			end = i
		}
	}
	if state != stateComplete {
		return []byte{}, data
	}
	return Unescape(data[start:end]), data[end+1:]
}

// Unescape reverses the escape substitutions of Encode on the content of
// a single frame (without delimiters). An Esc not followed by EscEnd or
// EscEsc is kept as is.
func Unescape(content []byte) []byte {
	out := make([]byte, 0, len(content))
	for i := 0; i < len(content); i++ {
		b := content[i]
		if b == Esc && i+1 < len(content) {
			switch content[i+1] {
			case EscEnd:
				out = append(out, End)
				i++
				continue
			case EscEsc:
				out = append(out, Esc)
				i++
				continue
			}
		}
		out = append(out, b)
	}
	return out
}
