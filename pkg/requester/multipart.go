package requester

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"

	"go.uber.org/zap"
)

// File is one file part of a multipart upload.
type File struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Multipart issues a POST with a multipart/form-data body built from
// fields and files.
func (r *Requester) Multipart(ctx context.Context, path string, fields map[string]string, files []File) *Envelope {
	body, contentType, err := encodeMultipart(fields, files)
	if err != nil {
		r.logger.Error("Failed to encode multipart body",
			zap.String("path", path),
			zap.Error(err))
		return GenericResponse(r.config.GenericMessage)
	}

	return r.do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		contentType: contentType,
	})
}

func encodeMultipart(fields map[string]string, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part %s: %w", f.Field, err)
		}
		if f.Content == nil {
			continue
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("failed to copy file %s: %w", f.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
