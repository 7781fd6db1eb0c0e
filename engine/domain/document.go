package domain

import (
	"strings"
)

// FileType is the declared format of an ingested file.
type FileType string

const (
	FileTypeText FileType = "txt"
	FileTypePDF  FileType = "pdf"
)

// ParseFileType maps an extension (with or without the leading dot, any case)
// to a FileType.
func ParseFileType(ext string) (FileType, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "txt":
		return FileTypeText, nil
	case "pdf":
		return FileTypePDF, nil
	default:
		return "", NewValidationError("file_type", ext, ErrUnsupportedFormat)
	}
}

// SourceType selects how retrieved chunks are normalized into an answer.
type SourceType string

const (
	SourceText SourceType = "txt"
	SourcePDF  SourceType = "pdf"
)

// ParseSourceType is case-insensitive. Anything but txt or pdf is rejected.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt":
		return SourceText, nil
	case "pdf":
		return SourcePDF, nil
	default:
		return "", NewValidationError("source_type", s, ErrUnsupportedSourceType)
	}
}

// SourceTypeOf returns the normalization policy matching an ingested file type.
func SourceTypeOf(ft FileType) SourceType {
	return SourceType(ft)
}

// Metadata keys shared by the loader, splitter and vector payloads.
const (
	MetaSource     = "source"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
)

// Document is one raw record produced by the loader: a whole text file or a
// single PDF page.
type Document struct {
	Text     string
	Metadata map[string]any
}

// Chunk is a bounded, overlapping substring of a Document.
// ID is assigned by the ingestion pipeline, not the splitter.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// CloneMetadata returns a shallow copy of m with room for extra keys.
func CloneMetadata(m map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
