package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// DefaultFolder is the entry folder of an archive when none is configured.
const DefaultFolder = "invitations"

var errArchiveClosed = errors.New("archive is closed")

// Packager collects named entries and produces one downloadable blob.
type Packager interface {
	Add(name string, data []byte) error
	Close() ([]byte, error)
}

// Archive is a zip file built in memory with all entries under one folder.
type Archive struct {
	folder string
	buf    bytes.Buffer
	zw     *zip.Writer
	closed bool
	now    func() time.Time
}

// NewArchive creates an empty archive. The folder name is sanitized.
func NewArchive(folder string) *Archive {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}
	a := &Archive{folder: SanitizeName(folder), now: time.Now}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// Folder returns the entry folder.
func (a *Archive) Folder() string { return a.folder }

// Add stores data as folder/name. PNG data is stored without recompression.
func (a *Archive) Add(name string, data []byte) error {
	if a.closed {
		return errArchiveClosed
	}
	method := zip.Deflate
	if strings.EqualFold(path.Ext(name), ".png") {
		method = zip.Store
	}
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     path.Join(a.folder, name),
		Method:   method,
		Modified: a.now(),
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

// Close finalizes the archive and returns its bytes.
func (a *Archive) Close() ([]byte, error) {
	if a.closed {
		return nil, errArchiveClosed
	}
	a.closed = true
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return a.buf.Bytes(), nil
}
