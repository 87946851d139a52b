package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/facextract/internal/types"
	"github.com/andresmejia3/facextract/internal/utils"
	"github.com/richardlehane/mscfb"
)

const (
	wordDocumentStream = "WordDocument"
	dataStream         = "Data"
)

// LegacyWordExtractor reads Word 97-2003 binary documents. Inline pictures
// live in the "Data" stream of the OLE2 container and are carved out by
// their JPEG/PNG signatures.
type LegacyWordExtractor struct{}

func NewLegacyWordExtractor() *LegacyWordExtractor {
	return &LegacyWordExtractor{}
}

func (e *LegacyWordExtractor) Extract(ctx context.Context, path string) ([]types.EmbeddedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("open compound file: %w", err)
	}

	var (
		isWord bool
		data   []byte
	)
	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read compound file: %w", err)
		}
		switch entry.Name {
		case wordDocumentStream:
			isWord = true
		case dataStream:
			if data, err = io.ReadAll(entry); err != nil {
				return nil, fmt.Errorf("read %s stream: %w", dataStream, err)
			}
		}
	}
	if !isWord {
		return nil, fmt.Errorf("no %s stream, not a Word document", wordDocumentStream)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var images []types.EmbeddedImage
	for i, blob := range utils.CarveImages(data) {
		images = append(images, types.EmbeddedImage{
			Index: i,
			Name:  fmt.Sprintf("%s stream image %d", dataStream, i),
			Data:  blob,
		})
	}
	return images, nil
}
