// Package detect finds faces in decoded images and crops them to a fixed size.
package detect

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/andresmejia3/facextract/internal/types"
	pigo "github.com/esimov/pigo/core"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// FaceSize is the edge length of every cropped face.
const FaceSize = 128

// Classifier proposes face rectangles on a row-major grayscale pixel grid.
type Classifier interface {
	Classify(gray []uint8, rows, cols int) []types.Rect
}

// Detector decodes images, runs the classifier and crops the results.
type Detector struct {
	classifier Classifier
}

func NewDetector(c Classifier) *Detector {
	return &Detector{classifier: c}
}

// Detect returns one FaceSize x FaceSize crop per rectangle reported by the
// classifier. Rectangles are clamped to the image; empty ones are dropped.
// Images that cannot be decoded return an error.
func (d *Detector) Detect(data []byte) ([]types.Face, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img := toRGBA(src)
	bounds := img.Bounds()
	gray := pigo.RgbToGrayscale(img)

	rects := d.classifier.Classify(gray, bounds.Dy(), bounds.Dx())
	faces := make([]types.Face, 0, len(rects))
	for _, r := range rects {
		crop := r.Rectangle().Intersect(bounds)
		if crop.Empty() {
			continue
		}
		dst := image.NewRGBA(image.Rect(0, 0, FaceSize, FaceSize))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)
		faces = append(faces, types.Face{
			Rect:  types.Rect{X: crop.Min.X, Y: crop.Min.Y, W: crop.Dx(), H: crop.Dy()},
			Image: dst,
		})
	}
	return faces, nil
}

// toRGBA copies src into a zero-origin RGBA image, the layout pigo expects.
func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
