package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// DocumentVersion is written into every encoded snapshot.
const DocumentVersion = "1"

type (
	// Geometry positions an object on the canvas. Substitution never touches it.
	Geometry struct {
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		ScaleX float64 `json:"scaleX"`
		ScaleY float64 `json:"scaleY"`
		Angle  float64 `json:"angle"`
	}

	// BackgroundImage is drawn right after the background color, before any object.
	BackgroundImage struct {
		Src    string  `json:"src"`
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		ScaleX float64 `json:"scaleX"`
		ScaleY float64 `json:"scaleY"`
	}

	// Snapshot is the serializable tree behind one designed canvas.
	// Objects are stored bottom to top: z-order is list order.
	Snapshot struct {
		Version         string           `json:"version"`
		Width           int              `json:"width"`
		Height          int              `json:"height"`
		Background      string           `json:"background,omitempty"`
		BackgroundImage *BackgroundImage `json:"backgroundImage,omitempty"`
		Objects         []Object         `json:"objects"`
	}

	// Object is one graphic element on the canvas.
	Object struct {
		Geometry
		Content Content
	}

	// Content is the closed set of object variants: *Text, *Image and *Shape.
	Content interface {
		contentType() string
		clone() Content
	}

	// Text may contain the guest name placeholder.
	Text struct {
		Text       string
		FontFamily string
		FontSize   float64
		Fill       string
		Bold       bool
		Italic     bool
		Underline  bool
		Align      string
	}

	// Image is either a static bitmap reference or, when QRTemplate is set,
	// a QR code regenerated per recipient from the template.
	Image struct {
		Src        string
		Width      float64
		Height     float64
		QRTemplate string
	}

	// Shape is never personalized.
	Shape struct {
		Kind        ShapeKind
		Width       float64
		Height      float64
		Fill        string
		Stroke      string
		StrokeWidth float64
		Radius      float64
	}

	// ShapeKind names the geometric primitive of a Shape.
	ShapeKind string
)

const (
	ShapeRect     ShapeKind = "rect"
	ShapeCircle   ShapeKind = "circle"
	ShapeEllipse  ShapeKind = "ellipse"
	ShapeTriangle ShapeKind = "triangle"
	ShapeLine     ShapeKind = "line"
)

// GuestNamePlaceholder is the literal token replaced by a recipient's display name.
const GuestNamePlaceholder = "{guest_name}"

func (*Text) contentType() string { return "text" }
func (*Image) contentType() string { return "image" }
func (s *Shape) contentType() string { return string(s.Kind) }

func (t *Text) clone() Content { c := *t; return &c }
func (i *Image) clone() Content { c := *i; return &c }
func (s *Shape) clone() Content { c := *s; return &c }

// IsDynamicQR reports whether the image is regenerated from a templated QR payload.
func (i *Image) IsDynamicQR() bool {
	return i != nil && strings.Contains(i.QRTemplate, GuestNamePlaceholder)
}

// Type returns the serialized type tag of the object.
func (o Object) Type() string {
	if o.Content == nil {
		return ""
	}
	return o.Content.contentType()
}

// Clone returns an independent copy of the object.
func (o Object) Clone() Object {
	out := Object{Geometry: o.Geometry}
	if o.Content != nil {
		out.Content = o.Content.clone()
	}
	return out
}

// Clone returns a deep copy of the snapshot; nothing is shared with the receiver.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.BackgroundImage != nil {
		bg := *s.BackgroundImage
		out.BackgroundImage = &bg
	}
	out.Objects = make([]Object, len(s.Objects))
	for i, obj := range s.Objects {
		out.Objects[i] = obj.Clone()
	}
	return &out
}

// Validate checks the invariants a snapshot needs before it can be rendered.
func (s *Snapshot) Validate() error {
	if s == nil {
		return ErrNoDocument
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", s.Width, s.Height)
	}
	for i, obj := range s.Objects {
		if obj.Content == nil {
			return fmt.Errorf("object %d has no content", i)
		}
	}
	return nil
}

// Encode serializes the snapshot to its JSON document format.
func (s *Snapshot) Encode() ([]byte, error) {
	if s == nil {
		return nil, ErrNoDocument
	}
	out := *s
	if out.Version == "" {
		out.Version = DocumentVersion
	}
	if out.Objects == nil {
		out.Objects = []Object{}
	}
	return json.Marshal(&out)
}

// Fingerprint is a digest of the canonical encoding. Two snapshots with the
// same fingerprint are data-for-data identical.
func (s *Snapshot) Fingerprint() string {
	data, err := s.Encode()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecodeSnapshot parses a serialized document.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.BackgroundImage != nil {
		snap.BackgroundImage.ScaleX = unitScale(snap.BackgroundImage.ScaleX)
		snap.BackgroundImage.ScaleY = unitScale(snap.BackgroundImage.ScaleY)
	}
	return &snap, nil
}

// wireObject is the flat fabric-style representation of an Object.
type wireObject struct {
	Type   string  `json:"type"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	ScaleX float64 `json:"scaleX"`
	ScaleY float64 `json:"scaleY"`
	Angle  float64 `json:"angle"`

	Text       string  `json:"text,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontWeight string  `json:"fontWeight,omitempty"`
	FontStyle  string  `json:"fontStyle,omitempty"`
	Underline  bool    `json:"underline,omitempty"`
	TextAlign  string  `json:"textAlign,omitempty"`

	Src        string `json:"src,omitempty"`
	QRTemplate string `json:"qrTemplate,omitempty"`

	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Rx          float64 `json:"rx,omitempty"`
}

// MarshalJSON writes the object with its "type" tag.
func (o Object) MarshalJSON() ([]byte, error) {
	w := wireObject{
		Left:   o.Left,
		Top:    o.Top,
		ScaleX: o.ScaleX,
		ScaleY: o.ScaleY,
		Angle:  o.Angle,
	}
	switch c := o.Content.(type) {
	case *Text:
		w.Type = "text"
		w.Text = c.Text
		w.FontFamily = c.FontFamily
		w.FontSize = c.FontSize
		w.Fill = c.Fill
		w.Underline = c.Underline
		w.TextAlign = c.Align
		if c.Bold {
			w.FontWeight = "bold"
		}
		if c.Italic {
			w.FontStyle = "italic"
		}
	case *Image:
		w.Type = "image"
		w.Src = c.Src
		w.QRTemplate = c.QRTemplate
		w.Width = c.Width
		w.Height = c.Height
	case *Shape:
		w.Type = string(c.Kind)
		w.Width = c.Width
		w.Height = c.Height
		w.Fill = c.Fill
		w.Stroke = c.Stroke
		w.StrokeWidth = c.StrokeWidth
		w.Rx = c.Radius
	case nil:
		return nil, fmt.Errorf("object has no content")
	default:
		panic(fmt.Sprintf("core: unknown object content %T", c))
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a fabric-style object. Unknown types are rejected.
func (o *Object) UnmarshalJSON(data []byte) error {
	var w wireObject
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	o.Geometry = Geometry{
		Left:   w.Left,
		Top:    w.Top,
		ScaleX: unitScale(w.ScaleX),
		ScaleY: unitScale(w.ScaleY),
		Angle:  w.Angle,
	}

	switch strings.ToLower(w.Type) {
	case "text", "i-text", "textbox":
		o.Content = &Text{
			Text:       w.Text,
			FontFamily: w.FontFamily,
			FontSize:   w.FontSize,
			Fill:       w.Fill,
			Bold:       w.FontWeight == "bold" || w.FontWeight == "700",
			Italic:     w.FontStyle == "italic",
			Underline:  w.Underline,
			Align:      w.TextAlign,
		}
	case "image":
		o.Content = &Image{
			Src:        w.Src,
			Width:      w.Width,
			Height:     w.Height,
			QRTemplate: w.QRTemplate,
		}
	case string(ShapeRect), string(ShapeCircle), string(ShapeEllipse), string(ShapeTriangle), string(ShapeLine):
		o.Content = &Shape{
			Kind:        ShapeKind(strings.ToLower(w.Type)),
			Width:       w.Width,
			Height:      w.Height,
			Fill:        w.Fill,
			Stroke:      w.Stroke,
			StrokeWidth: w.StrokeWidth,
			Radius:      w.Rx,
		}
	default:
		return fmt.Errorf("unknown object type %q", w.Type)
	}
	return nil
}

func unitScale(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
