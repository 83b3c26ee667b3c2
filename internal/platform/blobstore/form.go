package blobstore

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrNoFile is returned by FormFile when the field is absent.
var ErrNoFile = errors.New("file is required")

// File is an uploaded document held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// FormFile reads a multipart file field of at most limit bytes. The content
// type comes from the part header, or from the file extension when the client
// sent none.
func FormFile(c echo.Context, field string, limit int64) (*File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, ErrNoFile
		}
		return nil, fmt.Errorf("read form field %q: %w", field, err)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}
	return &File{
		Name:        filepath.Base(fh.Filename),
		ContentType: contentTypeOf(fh.Header.Get("Content-Type"), fh.Filename),
		Data:        data,
	}, nil
}

func contentTypeOf(header, name string) string {
	ct := header
	if ct == "" || ct == "application/octet-stream" {
		ct = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return "application/octet-stream"
}
