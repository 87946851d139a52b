package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/andresmejia3/facextract/internal/types"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// PDFExtractor pulls image XObjects out of every page using pdfcpu.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract walks pages in order and returns each page's images sorted by
// object number. An image shared between pages is returned once per page.
func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]types.EmbeddedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pdfCtx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	var images []types.EmbeddedImage
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageImages, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
		if err != nil {
			return nil, fmt.Errorf("extract images of page %d: %w", pageNr, err)
		}

		objNrs := make([]int, 0, len(pageImages))
		for nr := range pageImages {
			objNrs = append(objNrs, nr)
		}
		sort.Ints(objNrs)

		for _, nr := range objNrs {
			img := pageImages[nr]
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read image object %d on page %d: %w", nr, pageNr, err)
			}
			images = append(images, types.EmbeddedImage{
				Index: len(images),
				Name:  fmt.Sprintf("page %d obj %d (%s)", pageNr, nr, img.FileType),
				Data:  data,
			})
		}
	}
	return images, nil
}
