// Package media turns user-supplied image resources into media fragments.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// DefaultContentType is assumed when the name carries no recognisable extension.
const DefaultContentType = "image/jpeg"

// ErrInputRead is returned when a resource cannot be opened or read.
var ErrInputRead = errors.New("input read failed")

// Resource is a named, readable attachment.
type Resource interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type fileResource struct{ path string }

// File is a Resource backed by a path on disk.
func File(path string) Resource { return fileResource{path: path} }

func (f fileResource) Name() string                 { return filepath.Base(f.path) }
func (f fileResource) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type bytesResource struct {
	name string
	data []byte
}

// Bytes is a Resource over an in-memory payload, e.g. an upload.
func Bytes(name string, data []byte) Resource { return bytesResource{name: name, data: data} }

func (b bytesResource) Name() string { return b.name }
func (b bytesResource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Encode reads r fully and wraps it as a media fragment.
func Encode(r Resource) (ports.Fragment, error) {
	rc, err := r.Open()
	if err != nil {
		return ports.Fragment{}, fmt.Errorf("%w: open %s: %w", ErrInputRead, r.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return ports.Fragment{}, fmt.Errorf("%w: read %s: %w", ErrInputRead, r.Name(), err)
	}

	frag := ports.MediaFragment(data, ContentType(r.Name()))
	frag.Name = r.Name()
	if frag.ContentType == "image/jpeg" {
		frag.CapturedAt = captureTime(data)
	}
	return frag, nil
}

// ContentType guesses the MIME type from the file extension.
func ContentType(name string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if ct == "" {
		return DefaultContentType
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// captureTime returns the EXIF DateTimeOriginal, or the zero time.
func captureTime(data []byte) time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return time.Time{}
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}
	}
	return t
}
