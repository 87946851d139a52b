package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/andresmejia3/facextract/internal/extract"
	"github.com/andresmejia3/facextract/internal/types"
	"github.com/andresmejia3/facextract/internal/writer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeExtractor serves images keyed by file name.
type fakeExtractor struct {
	images map[string][]types.EmbeddedImage
	errs   map[string]error
	onCall func(name string)
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) ([]types.EmbeddedImage, error) {
	name := filepath.Base(path)
	if f.onCall != nil {
		f.onCall(name)
	}
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.images[name], nil
}

// fakeDetector finds as many faces as the image payload has bytes, or fails on "bad".
type fakeDetector struct{}

func (fakeDetector) Detect(data []byte) ([]types.Face, error) {
	if string(data) == "bad" {
		return nil, errors.New("image: unknown format")
	}
	faces := make([]types.Face, len(data))
	for i := range faces {
		faces[i] = types.Face{Image: image.NewRGBA(image.Rect(0, 0, 128, 128))}
	}
	return faces, nil
}

type fakeLedger struct {
	started, finished int
	docs              []types.FileResult
	fail              bool
}

func (l *fakeLedger) StartRun(ctx context.Context, run types.RunSummary) error {
	l.started++
	return nil
}

func (l *fakeLedger) RecordDocument(ctx context.Context, runID uuid.UUID, res types.FileResult) error {
	l.docs = append(l.docs, res)
	if l.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (l *fakeLedger) FinishRun(ctx context.Context, run types.RunSummary) error {
	l.finished++
	return nil
}

func img(payload string) []types.EmbeddedImage {
	return []types.EmbeddedImage{{Index: 0, Name: "image1", Data: []byte(payload)}}
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("stub"), 0644))
	}
}

func newDriver(ex extract.Extractor) (*Driver, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return &Driver{
		Logger: logger,
		Extractors: map[types.DocumentType]extract.Extractor{
			types.Word:       ex,
			types.LegacyWord: ex,
			types.PDF:        ex,
		},
		Detector: fakeDetector{},
		Writer:   writer.New(logger),
	}, logs
}

func outputNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRun_EmptyFolder(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "faces")

	d, _ := newDriver(&fakeExtractor{})
	summary, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Zero(t, summary.Files)
	assert.NoDirExists(t, out)
}

func TestRun_MissingInputFolder(t *testing.T) {
	d, _ := newDriver(&fakeExtractor{})
	_, err := d.Run(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_WritesFaces(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "faces")
	touch(t, in, "alice.pdf", "bob.docx")
	require.NoError(t, os.Mkdir(filepath.Join(in, "nested.pdf"), 0755))

	ex := &fakeExtractor{images: map[string][]types.EmbeddedImage{
		"alice.pdf": img("xx"),
		"bob.docx":  {{Index: 0, Data: []byte("x")}, {Index: 1, Data: []byte("x")}},
	}}
	d, logs := newDriver(ex)

	summary, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"alice_face-0.png", "alice_face-1.png",
		"bob_face-0.png", "bob_face-1.png",
	}, outputNames(t, out))
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 2, summary.Done)
	assert.Equal(t, 4, summary.FacesWritten)

	assert.Equal(t, 1, logs.FilterMessage("Success to save all faces from alice.pdf").Len())
	assert.Equal(t, 1, logs.FilterMessage("Finish!").Len())
}

func TestRun_UnsupportedFileSkipped(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "notes.txt", "cv.pdf")

	d, logs := newDriver(&fakeExtractor{images: map[string][]types.EmbeddedImage{"cv.pdf": img("x")}})
	summary, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Done)

	skipped := logs.FilterMessage("Not a pdf or word file: notes.txt").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, zapcore.ErrorLevel, skipped[0].Level)
	assert.Equal(t, []string{"cv_face-0.png"}, outputNames(t, out))
}

func TestRun_FailureDoesNotStopRun(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "a.docx", "b.pdf", "c.doc")

	ex := &fakeExtractor{
		errs: map[string]error{"a.docx": errors.New("zip: not a valid zip file")},
		images: map[string][]types.EmbeddedImage{
			"b.pdf": img("x"),
			"c.doc": {{Index: 0, Data: []byte("x")}, {Index: 1, Data: []byte("bad")}},
		},
	}
	d, logs := newDriver(ex)

	summary, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, []string{"b_face-0.png"}, outputNames(t, out))

	failures := logs.FilterMessage("Failed to process file").All()
	require.Len(t, failures, 2)
	assert.Equal(t, filepath.Join(in, "a.docx"), failures[0].ContextMap()["file"])
	assert.Contains(t, failures[1].ContextMap()["error"], "detect faces in image 1")
}

func TestRun_NoFacesWarns(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "faces")
	touch(t, in, "landscape.pdf")

	d, logs := newDriver(&fakeExtractor{images: map[string][]types.EmbeddedImage{"landscape.pdf": img("")}})
	summary, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NoFaces)
	warnings := logs.FilterMessage("No faces contained in landscape.pdf").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.NoDirExists(t, out)
}

func TestRun_BaseNameCollisions(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "resume.doc", "resume.docx", "resume.pdf", "50%.pdf")

	ex := &fakeExtractor{images: map[string][]types.EmbeddedImage{
		"resume.doc":  img("x"),
		"resume.docx": img("x"),
		"resume.pdf":  img("x"),
		"50%.pdf":     img("x"),
	}}
	d, _ := newDriver(ex)

	_, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"50%_face-0.png",
		"resume-docx_face-0.png",
		"resume-pdf_face-0.png",
		"resume_face-0.png",
	}, outputNames(t, out))
}

func TestClaimBaseName(t *testing.T) {
	claimed := map[string]bool{}
	assert.Equal(t, "cv", claimBaseName("cv.pdf", claimed))
	assert.Equal(t, "cv-pdf", claimBaseName("cv.PDF", claimed))
	assert.Equal(t, "cv-pdf-2", claimBaseName("cv.pdf", claimed))
	assert.Equal(t, "cv-pdf-3", claimBaseName("cv.pdf", claimed))
	assert.Equal(t, "archive.tar", claimBaseName("archive.tar.pdf", claimed))
}

func TestRun_Abort(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "a.pdf", "b.pdf", "c.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	ex := &fakeExtractor{
		images: map[string][]types.EmbeddedImage{"a.pdf": img("x"), "b.pdf": img("x"), "c.pdf": img("x")},
		onCall: func(name string) {
			seen = append(seen, name)
			if name == "b.pdf" {
				cancel()
			}
		},
	}
	d, _ := newDriver(ex)
	ledger := &fakeLedger{}
	d.Ledger = ledger

	summary, err := d.Run(ctx, in, out)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, seen)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, []string{"a_face-0.png"}, outputNames(t, out))
	assert.Equal(t, 1, ledger.finished)
}

func TestRun_LedgerFailuresAreLogged(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "a.pdf", "b.txt")

	d, logs := newDriver(&fakeExtractor{images: map[string][]types.EmbeddedImage{"a.pdf": img("x")}})
	ledger := &fakeLedger{fail: true}
	d.Ledger = ledger

	summary, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)

	assert.Equal(t, 1, ledger.started)
	assert.Equal(t, 1, ledger.finished)
	require.Len(t, ledger.docs, 2)
	assert.NotEmpty(t, ledger.docs[0].DocumentID)
	assert.Equal(t, types.StatusSkipped, ledger.docs[1].Status)
	assert.Equal(t, 2, logs.FilterMessage("Ledger update failed").Len())
}

func TestRun_Progress(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "a.pdf")

	d, _ := newDriver(&fakeExtractor{images: map[string][]types.EmbeddedImage{"a.pdf": img("x")}})
	var progress bytes.Buffer
	d.Progress = &progress

	_, err := d.Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Contains(t, progress.String(), "Extracting faces")
}
