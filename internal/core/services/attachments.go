package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"quickdowntime/internal/core/domain"
	"quickdowntime/pkg/utils"
)

const (
	imageFolder = "images"
	audioFolder = "audio"

	imagePrefix = "img_"
	audioPrefix = "aud_"

	defaultImageExt = ".jpg"
	defaultAudioExt = ".webm"
)

var errEmptyPayload = errors.New("attachment payload is empty")

// saveAttachment writes a to the blob store and returns its public path. A nil
// or empty attachment yields "".
func (s *IngestionService) saveAttachment(ctx context.Context, a *domain.Attachment, folder, prefix, defaultExt string) (string, error) {
	if a.Empty() {
		return "", nil
	}

	data, ext, err := decodeAttachment(a, defaultExt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAttachment, err)
	}

	ref, err := s.blobs.Save(ctx, data, folder, utils.BlobName(prefix, ext))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAttachment, err)
	}
	return ref, nil
}

// decodeAttachment returns the raw bytes of a and the file extension to store
// them under: the filename's extension, else the data-URL subtype, else defaultExt.
func decodeAttachment(a *domain.Attachment, defaultExt string) ([]byte, string, error) {
	ext := sanitizeExt(filepath.Ext(a.Filename))

	if len(a.Data) > 0 {
		if ext == "" {
			ext = defaultExt
		}
		return a.Data, ext, nil
	}

	payload := strings.TrimSpace(a.Base64)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		if ext == "" {
			ext = extFromMime(header)
		}
		payload = body
	}
	if ext == "" {
		ext = defaultExt
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errEmptyPayload
	}
	return data, ext, nil
}

// extFromMime turns a data-URL header such as "image/png;base64" into ".png".
func extFromMime(header string) string {
	mime, _, _ := strings.Cut(header, ";")
	_, sub, found := strings.Cut(mime, "/")
	if !found {
		return ""
	}
	sub, _, _ = strings.Cut(sub, "+")
	return sanitizeExt("." + sub)
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 payload")
}
