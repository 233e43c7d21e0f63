package render

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Style selects one of the four faces of a family.
type Style int

const (
	StyleRegular Style = iota
	StyleBold
	StyleItalic
	StyleBoldItalic
)

// StyleOf maps text style flags to a Style.
func StyleOf(bold, italic bool) Style {
	switch {
	case bold && italic:
		return StyleBoldItalic
	case bold:
		return StyleBold
	case italic:
		return StyleItalic
	default:
		return StyleRegular
	}
}

const fallbackFamily = "go"

// FontBook maps font families to parsed fonts. Unknown families fall back
// to the Go fonts. Parsed fonts are shared; faces are created per draw since
// a face must not be used concurrently.
type FontBook struct {
	mu       sync.RWMutex
	families map[string]*[4]*opentype.Font
}

// NewFontBook returns a book preloaded with the Go font family.
func NewFontBook() (*FontBook, error) {
	b := &FontBook{families: make(map[string]*[4]*opentype.Font)}
	builtin := map[Style][]byte{
		StyleRegular:    goregular.TTF,
		StyleBold:       gobold.TTF,
		StyleItalic:     goitalic.TTF,
		StyleBoldItalic: gobolditalic.TTF,
	}
	for style, ttf := range builtin {
		if err := b.Register(fallbackFamily, style, ttf); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Register adds a TrueType or OpenType font for family and style.
func (b *FontBook) Register(family string, style Style, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", family, err)
	}
	key := strings.ToLower(strings.TrimSpace(family))

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.families[key]
	if !ok {
		set = &[4]*opentype.Font{}
		b.families[key] = set
	}
	set[style] = f
	return nil
}

// Face creates a face of the given pixel size. The caller closes it.
func (b *FontBook) Face(family string, style Style, size float64) (font.Face, error) {
	f := b.lookup(strings.ToLower(strings.TrimSpace(family)), style)
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func (b *FontBook) lookup(family string, style Style) *opentype.Font {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, name := range []string{family, fallbackFamily} {
		set, ok := b.families[name]
		if !ok {
			continue
		}
		if f := set[style]; f != nil {
			return f
		}
		if f := set[StyleRegular]; f != nil {
			return f
		}
	}
	return b.families[fallbackFamily][StyleRegular]
}
