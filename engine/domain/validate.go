package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxCollectionName = 255

// ValidateCollectionName rejects names the vector store cannot address.
func ValidateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("collection", name, ErrInvalidCollectionName)
	}
	if utf8.RuneCountInString(name) > maxCollectionName {
		return NewValidationError("collection", string([]rune(name)[:32])+"...", ErrInvalidCollectionName)
	}
	for _, r := range name {
		if r == '/' || unicode.IsControl(r) {
			return NewValidationError("collection", name, ErrInvalidCollectionName)
		}
	}
	return nil
}

// ValidateChunkConfig requires 0 <= overlap < size.
func ValidateChunkConfig(size, overlap int) error {
	if size <= 0 {
		return NewValidationError("chunk_size", fmt.Sprintf("%d", size), ErrInvalidChunkConfig)
	}
	if overlap < 0 || overlap >= size {
		return NewValidationError("chunk_overlap", fmt.Sprintf("%d", overlap), ErrInvalidChunkConfig)
	}
	return nil
}

// ValidateQuestion requires a non-blank question.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	return nil
}
