package loader

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/WessleyAI/docrag/engine/domain"
)

// readPDF emits one document per page that carries text. Page numbers are 1-based.
func readPDF(path string) (docs []domain.Document, err error) {
	// The pdf package panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, readErr(path, fmt.Errorf("parse: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, readErr(path, err)
	}
	defer f.Close()

	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, readErr(path, fmt.Errorf("page %d: %w", i, err))
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			Text: text,
			Metadata: map[string]any{
				domain.MetaSource: path,
				domain.MetaPage:   i,
			},
		})
	}
	return docs, nil
}
