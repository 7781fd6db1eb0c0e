package loader

import (
	"errors"
	"os"
	"unicode/utf8"

	"github.com/WessleyAI/docrag/engine/domain"
)

func readText(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, readErr(path, err)
	}
	if !utf8.Valid(data) {
		return nil, readErr(path, errors.New("not valid UTF-8"))
	}
	return []domain.Document{{
		Text:     string(data),
		Metadata: map[string]any{domain.MetaSource: path},
	}}, nil
}
