package detect

import (
	_ "embed"
	"fmt"

	"github.com/andresmejia3/facextract/internal/types"
	pigo "github.com/esimov/pigo/core"
)

// Fixed cascade parameters.
const (
	ScaleFactor  = 1.3
	MinNeighbors = 5
	ShiftFactor  = 0.1
	MinSize      = 20
	IoUThreshold = 0.2
)

// facefinder is pigo's frontal face cascade (MIT, see cascade/LICENSE).
//
//go:embed cascade/facefinder
var facefinder []byte

// DefaultCascade returns the bundled frontal face cascade.
func DefaultCascade() []byte {
	return facefinder
}

// PigoClassifier runs a pigo frontal-face cascade.
type PigoClassifier struct {
	cascade *pigo.Pigo
}

// NewPigoClassifier unpacks a binary pigo cascade (e.g. cascade/facefinder).
func NewPigoClassifier(cascadeFile []byte) (c *PigoClassifier, err error) {
	// Unpack indexes into the packet without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("unpack cascade: corrupt cascade file: %v", r)
		}
	}()

	cascade, err := pigo.NewPigo().Unpack(cascadeFile)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade: %w", err)
	}
	return &PigoClassifier{cascade: cascade}, nil
}

// Classify scans the grid at every scale between MinSize and the shorter image
// side, groups overlapping hits and keeps groups backed by at least
// MinNeighbors raw detections.
func (p *PigoClassifier) Classify(gray []uint8, rows, cols int) []types.Rect {
	maxSize := min(rows, cols)
	if maxSize < MinSize {
		return nil
	}

	params := pigo.CascadeParams{
		MinSize:     MinSize,
		MaxSize:     maxSize,
		ShiftFactor: ShiftFactor,
		ScaleFactor: ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	raw := p.cascade.RunCascade(params, 0.0)
	clusters := p.cascade.ClusterDetections(raw, IoUThreshold)
	return withNeighbors(raw, clusters, MinNeighbors)
}

// withNeighbors converts clusters to rectangles, dropping those overlapped by
// fewer than minNeighbors raw detections.
func withNeighbors(raw, clusters []pigo.Detection, minNeighbors int) []types.Rect {
	var rects []types.Rect
	for _, c := range clusters {
		n := 0
		for _, d := range raw {
			if iou(c, d) > IoUThreshold {
				n++
			}
		}
		if n >= minNeighbors {
			rects = append(rects, toRect(c))
		}
	}
	return rects
}

// toRect converts a pigo detection (center row/col, square side) to a box.
func toRect(d pigo.Detection) types.Rect {
	return types.Rect{
		X: d.Col - d.Scale/2,
		Y: d.Row - d.Scale/2,
		W: d.Scale,
		H: d.Scale,
	}
}

func iou(a, b pigo.Detection) float64 {
	ra, rb := toRect(a).Rectangle(), toRect(b).Rectangle()
	inter := ra.Intersect(rb)
	if inter.Empty() {
		return 0
	}
	i := float64(inter.Dx() * inter.Dy())
	u := float64(ra.Dx()*ra.Dy()+rb.Dx()*rb.Dy()) - i
	return i / u
}
