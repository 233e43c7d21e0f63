// Package assets loads and regenerates the images a document refers to.
package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 10 << 20
)

var (
	ErrUnsupportedSource = errors.New("unsupported image source")
	ErrEmptySource       = errors.New("empty image source")
)

// Loader fetches and decodes one image.
type Loader interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// HTTPLoader loads http(s) and data: URLs.
type HTTPLoader struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPLoader creates a loader whose requests time out after timeout.
func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPLoader{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: defaultMaxBytes,
	}
}

// Load fetches src and decodes it as png, jpeg, gif or webp.
func (l *HTTPLoader) Load(ctx context.Context, src string) (image.Image, error) {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return nil, ErrEmptySource
	case strings.HasPrefix(src, "data:"):
		data, err := decodeDataURL(src)
		if err != nil {
			return nil, err
		}
		return decode(bytes.NewReader(data))
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return l.fetch(ctx, src)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, src)
	}
}

func (l *HTTPLoader) fetch(ctx context.Context, src string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	limit := l.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image exceeds %d bytes", limit)
	}
	return decode(bytes.NewReader(data))
}

func decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// decodeDataURL returns the payload of a data: URL.
func decodeDataURL(src string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URL: %w", err)
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	return []byte(data), nil
}

// DataURL encodes a PNG as a data: URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
