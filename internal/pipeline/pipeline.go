// Package pipeline walks an input folder and drives every document through
// extraction, detection and writing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/facextract/internal/extract"
	"github.com/andresmejia3/facextract/internal/types"
	"github.com/andresmejia3/facextract/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// ErrAborted is returned by Run when the context is cancelled mid-run.
var ErrAborted = errors.New("run aborted")

// FaceSuffix is appended to a document's base name to form the output pattern.
const FaceSuffix = "_face-%d.png"

type FaceDetector interface {
	Detect(data []byte) ([]types.Face, error)
}

type FaceWriter interface {
	Write(faces []types.Face, dir, pattern string) ([]types.FaceOutcome, error)
}

// Ledger records runs and documents. Implementations must tolerate being
// called for documents that were skipped or failed.
type Ledger interface {
	StartRun(ctx context.Context, run types.RunSummary) error
	RecordDocument(ctx context.Context, runID uuid.UUID, res types.FileResult) error
	FinishRun(ctx context.Context, run types.RunSummary) error
}

// Driver processes one folder at a time, sequentially.
type Driver struct {
	Logger     *zap.Logger
	Extractors map[types.DocumentType]extract.Extractor
	Detector   FaceDetector
	Writer     FaceWriter
	Ledger     Ledger    // Optional
	Progress   io.Writer // Optional, progress bar destination
}

// Run processes every regular file of inputDir in name order and writes the
// faces it finds into outputDir. Per-file failures are logged and recorded in
// the summary; the only errors returned are a failure to list inputDir and
// ErrAborted.
func (d *Driver) Run(ctx context.Context, inputDir, outputDir string) (types.RunSummary, error) {
	summary := types.RunSummary{
		ID:        uuid.New(),
		InputDir:  inputDir,
		OutputDir: outputDir,
		StartedAt: time.Now(),
	}

	files, err := listFiles(inputDir)
	if err != nil {
		return summary, err
	}

	d.Logger.Info("Start extracting faces",
		zap.String("run", summary.ID.String()),
		zap.String("input", inputDir),
		zap.String("output", outputDir),
		zap.Int("files", len(files)))
	d.ledger(func(l Ledger) error { return l.StartRun(ctx, summary) })

	var bar *progressbar.ProgressBar
	if d.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("🔍 Extracting faces"),
			progressbar.OptionSetWriter(d.Progress),
			progressbar.OptionShowCount(),
		)
	}

	claimed := make(map[string]bool)
	for _, name := range files {
		if ctx.Err() != nil {
			return d.abort(summary)
		}

		res, err := d.processFile(ctx, filepath.Join(inputDir, name), outputDir, claimed)
		if err != nil {
			return d.abort(summary)
		}
		summary.Add(res)
		d.ledger(func(l Ledger) error { return l.RecordDocument(ctx, summary.ID, res) })

		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(d.Progress)
	}

	summary.FinishedAt = time.Now()
	d.ledger(func(l Ledger) error { return l.FinishRun(ctx, summary) })
	d.Logger.Info("Finish!",
		zap.Int("files", summary.Files),
		zap.Int("done", summary.Done),
		zap.Int("no_faces", summary.NoFaces),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("faces", summary.FacesWritten),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

// processFile runs a single document through the pipeline. The error is
// non-nil only when the context was cancelled while the file was in flight.
func (d *Driver) processFile(ctx context.Context, path, outputDir string, claimed map[string]bool) (types.FileResult, error) {
	start := time.Now()
	name := filepath.Base(path)
	res := types.FileResult{Path: path, Name: name, Type: extract.Classify(name)}
	log := d.Logger.With(zap.String("file", path))

	ex, ok := d.Extractors[res.Type]
	if !ok {
		log.Error("Not a pdf or word file: " + name)
		res.Status = types.StatusSkipped
		res.Duration = time.Since(start)
		return res, nil
	}

	fail := func(stage string, err error) (types.FileResult, error) {
		if ctx.Err() != nil {
			return res, ErrAborted
		}
		res.Err = fmt.Errorf("%s: %w", stage, err)
		res.Status = types.StatusFailed
		res.Duration = time.Since(start)
		log.Error("Failed to process file", zap.Stringer("type", res.Type), zap.Error(res.Err))
		return res, nil
	}

	id, err := utils.GenerateDocumentID(path)
	if err != nil {
		return fail("identify document", err)
	}
	res.DocumentID = id

	images, err := ex.Extract(ctx, path)
	if err != nil {
		return fail("extract images", err)
	}
	res.Images = len(images)
	log.Debug("Extracted images", zap.Int("images", len(images)))

	var faces []types.Face
	for _, img := range images {
		if ctx.Err() != nil {
			return res, ErrAborted
		}
		found, err := d.Detector.Detect(img.Data)
		if err != nil {
			return fail(fmt.Sprintf("detect faces in image %d (%s)", img.Index, img.Name), err)
		}
		for i := range found {
			found[i].ImageIndex = img.Index
		}
		faces = append(faces, found...)
	}

	if countNonEmpty(faces) == 0 {
		log.Warn("No faces contained in " + name)
		res.Status = types.StatusNoFaces
		res.Duration = time.Since(start)
		return res, nil
	}

	res.BaseName = claimBaseName(name, claimed)
	pattern := strings.ReplaceAll(res.BaseName, "%", "%%") + FaceSuffix
	outcomes, err := d.Writer.Write(faces, outputDir, pattern)
	if err != nil {
		return fail("write faces", err)
	}
	res.Faces = outcomes
	res.Status = types.StatusDone
	res.Duration = time.Since(start)

	log.Info("Success to save all faces from "+name,
		zap.Int("faces", len(outcomes)),
		zap.Int("written", res.Written()),
		zap.Duration("elapsed", res.Duration))
	return res, nil
}

func (d *Driver) abort(summary types.RunSummary) (types.RunSummary, error) {
	summary.FinishedAt = time.Now()
	// The run context is already cancelled; the ledger still gets its final row.
	d.ledger(func(l Ledger) error { return l.FinishRun(context.Background(), summary) })
	return summary, ErrAborted
}

// ledger calls fn when a ledger is configured. Ledger errors never fail a run.
func (d *Driver) ledger(fn func(Ledger) error) {
	if d.Ledger == nil {
		return
	}
	if err := fn(d.Ledger); err != nil {
		d.Logger.Warn("Ledger update failed", zap.Error(err))
	}
}

// listFiles returns the names of regular entries of dir, sorted by name.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input folder: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// claimBaseName strips the final extension from name and reserves the result
// for this run. A base name already claimed by an earlier document gets the
// extension appended, then a counter.
func claimBaseName(name string, claimed map[string]bool) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := base
	if claimed[candidate] {
		suffix := strings.ToLower(strings.TrimPrefix(ext, "."))
		candidate = base + "-" + suffix
		for n := 2; claimed[candidate]; n++ {
			candidate = fmt.Sprintf("%s-%s-%d", base, suffix, n)
		}
	}
	claimed[candidate] = true
	return candidate
}

func countNonEmpty(faces []types.Face) int {
	n := 0
	for _, f := range faces {
		if !f.Empty() {
			n++
		}
	}
	return n
}
