// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
)

// MaxAttachmentSize is the largest accepted image file (10MB).
const MaxAttachmentSize = 10 * 1024 * 1024

// Attachment errors.
var (
	// ErrAttachmentTooLarge means the file exceeds MaxAttachmentSize.
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrUnsupportedAttachmentType means the file is not an allowed image
	// format.
	ErrUnsupportedAttachmentType = errors.New("unsupported attachment type")
)

// allowedImageTypes is the MIME allow-list for attachments.
var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// LoadAttachment reads an image file and prepares it for the wire: size
// check, content sniffing against the allow-list, base64 encoding. The
// MIME type comes from the file content, not the extension.
func LoadAttachment(path string) (Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if info.Size() > MaxAttachmentSize {
		return Attachment{}, fmt.Errorf("%w: %s is %d bytes (limit %d)",
			ErrAttachmentTooLarge, filepath.Base(path), info.Size(), MaxAttachmentSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	mediaType := http.DetectContentType(data)
	if !allowedImageTypes[mediaType] {
		return Attachment{}, fmt.Errorf("%w: %s detected as %s",
			ErrUnsupportedAttachmentType, filepath.Base(path), mediaType)
	}

	return Attachment{
		Name:      filepath.Base(path),
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
		Size:      int64(len(data)),
	}, nil
}

// LoadAttachments loads each path, skipping files that fail. A failing
// file is logged and dropped; the send proceeds with whatever loaded.
func LoadAttachments(paths []string) []Attachment {
	var out []Attachment
	for _, p := range paths {
		att, err := LoadAttachment(p)
		if err != nil {
			log.Printf("ATTACHMENT | skipped=%s err=%v", p, err)
			continue
		}
		out = append(out, att)
	}
	return out
}
