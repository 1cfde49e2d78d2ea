// Package photo stores images attached to check results.
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedType is returned for uploads that are not JPEG, PNG or WebP.
var ErrUnsupportedType = errors.New("photo: unsupported content type")

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("photo: file too large")

// Uploader persists a photo and returns the URL clients fetch it from.
type Uploader interface {
	Upload(ctx context.Context, stationID string, r io.Reader) (string, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// LocalStorage writes photos under Dir/<station>/ and serves them from BaseURL.
type LocalStorage struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
}

// NewLocalStorage creates dir if needed.
func NewLocalStorage(dir, baseURL string, maxBytes int64) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	return &LocalStorage{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/"), MaxBytes: maxBytes}, nil
}

// Upload implements Uploader. The type is sniffed from content, not trusted
// from the client.
func (s *LocalStorage) Upload(ctx context.Context, stationID string, r io.Reader) (string, error) {
	limited := io.LimitReader(r, s.MaxBytes+1)
	head := make([]byte, 512)
	n, err := io.ReadFull(limited, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]
	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	station := safeSegment(stationID)
	dir := filepath.Join(s.Dir, station)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + ext
	full := filepath.Join(dir, name)

	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), &ctxReader{ctx: ctx, r: limited}))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > s.MaxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(full)
		return "", err
	}
	return s.BaseURL + "/" + path.Join(station, name), nil
}

// UploadWithTimeout bounds an upload with its own deadline.
func UploadWithTimeout(ctx context.Context, u Uploader, timeout time.Duration, stationID string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return u.Upload(ctx, stationID, r)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' || r < ' ' {
			return '_'
		}
		return r
	}, s)
	if s == "" {
		return "_"
	}
	return s
}
