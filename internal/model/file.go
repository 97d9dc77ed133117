// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MaxFileSize is the upload cap for attached files (10 MB).
const MaxFileSize int64 = 10 * 1024 * 1024

// FileKind is a coarse classification used for icons and listings.
type FileKind string

const (
	KindPDF     FileKind = "pdf"
	KindDoc     FileKind = "doc"
	KindText    FileKind = "txt"
	KindImage   FileKind = "image"
	KindCode    FileKind = "code"
	KindDefault FileKind = "default"
)

var kindByExt = map[string]FileKind{
	"pdf":  KindPDF,
	"doc":  KindDoc,
	"docx": KindDoc,
	"txt":  KindText,
	"md":   KindText,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
	"gif":  KindImage,
	"svg":  KindImage,
	"js":   KindCode,
	"ts":   KindCode,
	"html": KindCode,
	"css":  KindCode,
	"py":   KindCode,
	"java": KindCode,
	"cpp":  KindCode,
	"c":    KindCode,
}

// FileMeta describes an attached file. Only metadata is kept; contents are
// never persisted.
type FileMeta struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	Kind         FileKind  `json:"kind"`
	LastModified time.Time `json:"lastModified"`
}

// NewFileMeta builds metadata for a file, inferring MIME type and kind from
// the extension.
func NewFileMeta(name string, size int64, modified time.Time) FileMeta {
	return FileMeta{
		Name:         name,
		Size:         size,
		Type:         mime.TypeByExtension(filepath.Ext(name)),
		Kind:         KindOf(name),
		LastModified: modified,
	}
}

// KindOf classifies a file name by its extension.
func KindOf(name string) FileKind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if k, ok := kindByExt[ext]; ok {
		return k
	}
	return KindDefault
}

// TooLarge reports whether the file exceeds MaxFileSize.
func (f FileMeta) TooLarge() bool {
	return f.Size > MaxFileSize
}

// FormatFileSize renders a byte count as "0 Bytes", "512 Bytes", "1.5 KB",
// "10 MB" and so on, with at most two decimals.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	value := float64(bytes)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return strconv.FormatFloat(roundTo(value, 2), 'f', -1, 64) + " " + units[i]
}

func roundTo(v float64, places int) float64 {
	pow := 1.0
	for i := 0; i < places; i++ {
		pow *= 10
	}
	return float64(int64(v*pow+0.5)) / pow
}
