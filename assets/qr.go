package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strconv"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// DefaultQRSize is the side of generated QR codes in logical px.
	DefaultQRSize = 200

	// DefaultQRServiceURL generates a QR PNG from the size and data query parameters.
	DefaultQRServiceURL = "https://api.qrserver.com/v1/create-qr-code/"
)

var ErrEmptyPayload = errors.New("empty QR payload")

// QRGenerator produces a QR image for a personalized payload. The returned
// src is what the document stores as the object's new image source.
type QRGenerator interface {
	Generate(ctx context.Context, payload string) (src string, img image.Image, err error)
}

// HTTPQR asks a remote QR service for the image.
type HTTPQR struct {
	Endpoint string
	Size     int
	Loader   Loader
}

// NewHTTPQR creates a generator backed by the QR service at endpoint.
func NewHTTPQR(endpoint string, size int, loader Loader) *HTTPQR {
	if endpoint == "" {
		endpoint = DefaultQRServiceURL
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	return &HTTPQR{Endpoint: endpoint, Size: size, Loader: loader}
}

// URL returns the service URL that renders payload.
func (q *HTTPQR) URL(payload string) (string, error) {
	u, err := url.Parse(q.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse QR endpoint: %w", err)
	}
	size := strconv.Itoa(q.Size)
	query := u.Query()
	query.Set("size", size+"x"+size)
	query.Set("data", payload)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Generate fetches the QR image for payload.
func (q *HTTPQR) Generate(ctx context.Context, payload string) (string, image.Image, error) {
	if payload == "" {
		return "", nil, ErrEmptyPayload
	}
	src, err := q.URL(payload)
	if err != nil {
		return "", nil, err
	}
	img, err := q.Loader.Load(ctx, src)
	if err != nil {
		return "", nil, err
	}
	return src, img, nil
}

// LocalQR encodes QR codes in-process.
type LocalQR struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewLocalQR creates an offline generator.
func NewLocalQR(size int) *LocalQR {
	if size <= 0 {
		size = DefaultQRSize
	}
	return &LocalQR{Size: size, Level: qrcode.Medium}
}

// Generate encodes payload and returns it as a data: URL.
func (q *LocalQR) Generate(ctx context.Context, payload string) (string, image.Image, error) {
	if payload == "" {
		return "", nil, ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	png, err := qrcode.Encode(payload, q.Level, q.Size)
	if err != nil {
		return "", nil, fmt.Errorf("encode QR: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return "", nil, fmt.Errorf("decode QR: %w", err)
	}
	return DataURL(png), img, nil
}
