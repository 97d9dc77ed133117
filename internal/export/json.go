// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports the complete chat document. Options other than Now
// are ignored.
type JSONExporter struct {
	options *Options
}

// jsonDocument wraps the stored chat with export metadata.
type jsonDocument struct {
	Generator  string             `json:"generator"`
	ExportedAt time.Time          `json:"exportedAt"`
	Chat       *model.ChatSession `json:"chat"`
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	return &JSONExporter{options: normalize(opts)}
}

// Export converts a chat to indented JSON.
func (e *JSONExporter) Export(chat *model.ChatSession) ([]byte, error) {
	if err := validate(chat); err != nil {
		return nil, err
	}
	return json.MarshalIndent(jsonDocument{
		Generator:  Generator,
		ExportedAt: e.options.Now().UTC(),
		Chat:       chat,
	}, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
