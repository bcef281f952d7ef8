// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// pngBytes returns a minimal buffer that content sniffing identifies as
// a PNG.
func pngBytes(payload int) []byte {
	header := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return append(header, bytes.Repeat([]byte{0}, payload)...)
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAttachmentPNG(t *testing.T) {
	data := pngBytes(64)
	path := writeTempFile(t, "shot.png", data)

	att, err := LoadAttachment(path)
	if err != nil {
		t.Fatalf("LoadAttachment: %v", err)
	}
	if att.Name != "shot.png" {
		t.Errorf("name = %q", att.Name)
	}
	if att.MediaType != "image/png" {
		t.Errorf("media type = %q, want image/png", att.MediaType)
	}
	if att.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", att.Size, len(data))
	}

	decoded, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		t.Fatalf("data is not valid base64: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("base64 round-trip does not match file content")
	}
}

func TestLoadAttachmentGIF(t *testing.T) {
	path := writeTempFile(t, "anim.gif", append([]byte("GIF89a"), bytes.Repeat([]byte{0}, 32)...))

	att, err := LoadAttachment(path)
	if err != nil {
		t.Fatalf("LoadAttachment: %v", err)
	}
	if att.MediaType != "image/gif" {
		t.Errorf("media type = %q, want image/gif", att.MediaType)
	}
}

func TestLoadAttachmentRejectsNonImage(t *testing.T) {
	path := writeTempFile(t, "notes.txt", []byte("just some text, not an image"))

	_, err := LoadAttachment(path)
	if !errors.Is(err, ErrUnsupportedAttachmentType) {
		t.Errorf("err = %v, want ErrUnsupportedAttachmentType", err)
	}
}

func TestLoadAttachmentRejectsOversize(t *testing.T) {
	path := writeTempFile(t, "huge.png", pngBytes(MaxAttachmentSize))

	_, err := LoadAttachment(path)
	if !errors.Is(err, ErrAttachmentTooLarge) {
		t.Errorf("err = %v, want ErrAttachmentTooLarge", err)
	}
}

func TestLoadAttachmentMissingFile(t *testing.T) {
	if _, err := LoadAttachment(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadAttachmentsSkipsFailures(t *testing.T) {
	good := writeTempFile(t, "ok.png", pngBytes(16))
	bad := writeTempFile(t, "bad.txt", []byte("nope"))
	missing := filepath.Join(t.TempDir(), "gone.png")

	atts := LoadAttachments([]string{bad, good, missing})
	if len(atts) != 1 {
		t.Fatalf("loaded %d attachments, want 1", len(atts))
	}
	if atts[0].Name != "ok.png" {
		t.Errorf("kept %q, want ok.png", atts[0].Name)
	}
}
