// Package loader reads supported files into domain documents.
// Dispatch is on the file extension, case-insensitively.
package loader

import (
	"fmt"
	"path/filepath"

	"github.com/WessleyAI/docrag/engine/domain"
)

// Reader turns one file into documents.
type Reader func(path string) ([]domain.Document, error)

var readers = map[domain.FileType]Reader{
	domain.FileTypeText: readText,
	domain.FileTypePDF:  readPDF,
}

// TypeOf returns the FileType implied by path's extension.
func TypeOf(path string) (domain.FileType, error) {
	ft, err := domain.ParseFileType(filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("loader: %s: %w", path, err)
	}
	return ft, nil
}

// Load reads path using the reader implied by its extension.
func Load(path string) ([]domain.Document, error) {
	ft, err := TypeOf(path)
	if err != nil {
		return nil, err
	}
	return readers[ft](path)
}

// LoadAs reads path as the declared type. A file whose extension disagrees
// with the declaration is rejected rather than parsed with the wrong reader.
func LoadAs(path string, declared domain.FileType) ([]domain.Document, error) {
	if declared == "" {
		return Load(path)
	}
	ft, err := TypeOf(path)
	if err != nil {
		return nil, err
	}
	if ft != declared {
		return nil, fmt.Errorf("loader: %s declared %s: %w", path, declared, domain.ErrUnsupportedFormat)
	}
	return readers[ft](path)
}

func readErr(path string, err error) error {
	return fmt.Errorf("loader: %s: %w: %v", path, domain.ErrRead, err)
}
