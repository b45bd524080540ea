package uri

import "strings"

func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	default:
		return false
	}
}

func hexVal(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}

// pctDecode decodes percent-escaped triples in s, treating the result as
// UTF-8 bytes (so percent-encoded Unicode host labels decode correctly).
// base is the byte offset of s within the original input, used to report
// an accurate SyntaxError.Position.
func pctDecode(s string, base int) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fail(base+i, "truncated percent-encoding")
		}
		hi, ok1 := hexVal(s[i+1])
		lo, ok2 := hexVal(s[i+2])
		if !ok1 || !ok2 {
			return "", fail(base+i, "invalid percent-encoding")
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

// pctEncode percent-encodes bytes in s that are not unreserved and not
// accepted by safe.
func pctEncode(s string, safe func(byte) bool) string {
	needsEscape := false
	for i := 0; i < len(s); i++ {
		b := s[i]
		if !isUnreserved(b) && !safe(b) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || safe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0xF])
	}
	return b.String()
}

func pathSafe(b byte) bool {
	switch b {
	case ':', '@', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	default:
		return false
	}
}

func queryComponentSafe(b byte) bool {
	switch b {
	case ':', '@', '!', '$', '\'', '(', ')', '*', ',', ';', '/', '?':
		return true
	default:
		return false
	}
}

func fragmentSafe(b byte) bool {
	switch b {
	case ':', '@', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', '/', '?':
		return true
	default:
		return false
	}
}

func userinfoSafe(b byte) bool {
	switch b {
	case '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	default:
		return false
	}
}

func hostSafe(b byte) bool {
	// DNS/opaque host labels and DID method-specific ids may carry these
	// structural characters unescaped.
	switch b {
	case ':', '%':
		return true
	default:
		return false
	}
}
