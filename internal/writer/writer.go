// Package writer persists cropped faces as PNG files.
package writer

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facextract/internal/types"
	"go.uber.org/zap"
)

// Writer saves faces into a destination folder.
type Writer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Writer {
	return &Writer{logger: logger}
}

// Write creates dir if needed and stores every non-empty face as a PNG named
// by substituting its index into pattern. Indexes count non-empty faces only.
// A face that fails to encode or write is logged and skipped; the returned
// error is reserved for failing to create dir.
func (w *Writer) Write(faces []types.Face, dir, pattern string) ([]types.FaceOutcome, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	outcomes := make([]types.FaceOutcome, 0, len(faces))
	idx := 0
	for _, face := range faces {
		if face.Empty() {
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf(pattern, idx))
		out := types.FaceOutcome{Index: idx, Path: path, Face: face}
		if err := writePNG(path, face); err != nil {
			out.Err = err
			w.logger.Error("Failed to write face",
				zap.String("path", path),
				zap.Int("index", idx),
				zap.Error(err))
		} else {
			w.logger.Debug("Wrote face", zap.String("path", path))
		}
		outcomes = append(outcomes, out)
		idx++
	}
	return outcomes, nil
}

func writePNG(path string, face types.Face) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, face.Image); err != nil {
		f.Close()
		os.Remove(path) // Don't leave a truncated PNG behind
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}
