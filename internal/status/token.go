// Package status defines the DI status token vocabulary and the ingest
// filter that guards the rest of the pipeline from foreign or malformed
// uplinks.
package status

// Token is a decoded DI status reading from the authoritative source.
type Token string

const (
	// Low means the digital input is pulled low (trigger condition).
	Low Token = "L"
	// High means the digital input is high (normal / safe condition).
	High Token = "H"
)

// Tokens returns the closed set of recognized status tokens.
func Tokens() []Token {
	return []Token{Low, High}
}

// Parse converts a raw uplink value into a Token. The second return is false
// for anything outside the recognized set.
func Parse(raw string) (Token, bool) {
	switch Token(raw) {
	case Low:
		return Low, true
	case High:
		return High, true
	default:
		return "", false
	}
}

func (t Token) String() string { return string(t) }
