package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/facextract/internal/detect"
	"github.com/andresmejia3/facextract/internal/extract"
	"github.com/andresmejia3/facextract/internal/pipeline"
	"github.com/andresmejia3/facextract/internal/writer"
	"go.uber.org/zap"
)

// runExtract wires the pipeline together and processes the input folder.
func runExtract(ctx context.Context, opts Options) error {
	if err := validateExtractFlags(opts); err != nil {
		die("Invalid arguments", err)
	}

	classifier, err := loadClassifier(opts.Cascade)
	if err != nil {
		die("Failed to load face detection cascade", err)
	}

	logger := Logger.Logger
	driver := &pipeline.Driver{
		Logger:     logger,
		Extractors: extract.Registry(),
		Detector:   detect.NewDetector(classifier),
		Writer:     writer.New(logger),
		Progress:   progressWriter(opts.NoProgress),
	}
	if DB != nil {
		driver.Ledger = DB
	}

	summary, err := driver.Run(ctx, opts.ReadDir, opts.SaveDir)
	if errors.Is(err, pipeline.ErrAborted) {
		logger.Warn("Keyboard Interrupt; Exit",
			zap.Int("files_processed", summary.Files),
			zap.Int("faces", summary.FacesWritten))
		return err
	}
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	return nil
}

// validateExtractFlags ensures the folders make sense before any document is opened.
func validateExtractFlags(opts Options) error {
	info, err := os.Stat(opts.ReadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input folder %q does not exist", opts.ReadDir)
		}
		return fmt.Errorf("unable to access input folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %q is not a folder", opts.ReadDir)
	}

	if opts.SaveDir == "" {
		return errors.New("output folder is empty")
	}
	if info, err := os.Stat(opts.SaveDir); err == nil && !info.IsDir() {
		return fmt.Errorf("output path %q exists and is not a folder", opts.SaveDir)
	}
	return nil
}

// loadClassifier unpacks the cascade at path, or the bundled one when path is empty.
func loadClassifier(path string) (*detect.PigoClassifier, error) {
	if path == "" {
		return detect.NewPigoClassifier(detect.DefaultCascade())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cascade: %w", err)
	}
	return detect.NewPigoClassifier(data)
}

func progressWriter(disabled bool) io.Writer {
	if disabled {
		return nil
	}
	return os.Stderr
}
