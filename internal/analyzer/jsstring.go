package analyzer

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// unquoteJS returns the value of a quoted JavaScript string literal. Invalid
// escapes are kept as the escaped character, as engines do in sloppy mode.
func unquoteJS(lit string) string {
	if len(lit) >= 2 && (lit[0] == '"' || lit[0] == '\'') && lit[len(lit)-1] == lit[0] {
		lit = lit[1 : len(lit)-1]
	}
	if !strings.Contains(lit, `\`) {
		return lit
	}

	var b strings.Builder
	b.Grow(len(lit))
	for i := 0; i < len(lit); {
		c := lit[i]
		if c != '\\' || i+1 >= len(lit) {
			b.WriteByte(c)
			i++
			continue
		}
		i++
		c = lit[i]
		switch c {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case 'b':
			b.WriteByte('\b')
			i++
		case 'f':
			b.WriteByte('\f')
			i++
		case 'v':
			b.WriteByte('\v')
			i++
		case '\r':
			// line continuation
			i++
			if i < len(lit) && lit[i] == '\n' {
				i++
			}
		case '\n':
			i++
		case 'x':
			if v, ok := parseHex(lit, i+1, 2); ok {
				b.WriteRune(rune(v))
				i += 3
			} else {
				b.WriteByte('x')
				i++
			}
		case 'u':
			r, n := unicodeEscape(lit, i+1)
			if n == 0 {
				b.WriteByte('u')
				i++
				continue
			}
			i += 1 + n
			// surrogate pair written as two \u escapes
			if utf16.IsSurrogate(r) && i+1 < len(lit) && lit[i] == '\\' && lit[i+1] == 'u' {
				if r2, n2 := unicodeEscape(lit, i+2); n2 > 0 {
					if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
						b.WriteRune(dec)
						i += 2 + n2
						continue
					}
				}
			}
			b.WriteRune(r)
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(lit) && j-i < 3 && lit[j] >= '0' && lit[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(lit[i:j], 8, 32)
			if v > 0377 {
				j--
				v >>= 3
			}
			b.WriteRune(rune(v))
			i = j
		default:
			_, size := utf8.DecodeRuneInString(lit[i:])
			b.WriteString(lit[i : i+size])
			i += size
		}
	}
	return b.String()
}

// unicodeEscape parses XXXX or {X...} at lit[i:] and returns the rune and
// the number of bytes consumed.
func unicodeEscape(lit string, i int) (rune, int) {
	if i < len(lit) && lit[i] == '{' {
		end := strings.IndexByte(lit[i:], '}')
		if end < 2 {
			return 0, 0
		}
		v, err := strconv.ParseUint(lit[i+1:i+end], 16, 32)
		if err != nil || v > utf8.MaxRune {
			return 0, 0
		}
		return rune(v), end + 1
	}
	v, ok := parseHex(lit, i, 4)
	if !ok {
		return 0, 0
	}
	return rune(v), 4
}

func parseHex(s string, i, n int) (uint64, bool) {
	if i+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[i:i+n], 16, 32)
	if err != nil {
		return 0, false
	}
	return v, true
}

// utf16Len returns the length of s in UTF-16 code units, the unit of
// JavaScript's String.length.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
