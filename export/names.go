package export

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNameLength = 64

// SanitizeName turns a display name into a file name: diacritics are
// stripped, anything outside [A-Za-z0-9_-] becomes an underscore, runs are
// collapsed. An empty result becomes "guest".
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}

	var b strings.Builder
	underscore := false
	for _, r := range plain {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-'):
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}

	out := strings.TrimRight(b.String(), "_")
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "_")
	}
	if out == "" {
		return "guest"
	}
	return out
}

// entryNames hands out unique archive entry names.
type entryNames map[string]int

func (n entryNames) next(guestName string) string {
	base := SanitizeName(guestName)
	n[base]++
	name := base
	if c := n[base]; c > 1 {
		name = base + "_" + strconv.Itoa(c)
		// "Ana_2" may be taken by a guest actually named that.
		for n[name] > 0 {
			n[base]++
			name = base + "_" + strconv.Itoa(n[base])
		}
		n[name]++
	}
	return name + ".png"
}
