// Package extract pulls embedded raster images out of PDF and Word documents.
package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facextract/internal/types"
)

// Extractor returns the raw encoded images embedded in a document, in
// document order.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]types.EmbeddedImage, error)
}

var extensions = map[string]types.DocumentType{
	".docx": types.Word,
	".docm": types.Word,
	".dotx": types.Word,
	".dotm": types.Word,
	".doc":  types.LegacyWord,
	".dot":  types.LegacyWord,
	".pdf":  types.PDF,
}

// Classify maps a file name to its document type by its final extension.
func Classify(path string) types.DocumentType {
	if t, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return types.Unsupported
}

// Registry returns an extractor for every supported document type.
func Registry() map[types.DocumentType]Extractor {
	return map[types.DocumentType]Extractor{
		types.Word:       NewDocxExtractor(),
		types.LegacyWord: NewLegacyWordExtractor(),
		types.PDF:        NewPDFExtractor(),
	}
}
