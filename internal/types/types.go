package types

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// DocumentType is the container format of an input file, decided by its extension.
type DocumentType int

const (
	Unsupported DocumentType = iota
	Word                     // OOXML: .docx, .docm, .dotx, .dotm
	LegacyWord               // OLE2 Word 97-2003: .doc, .dot
	PDF
)

func (t DocumentType) String() string {
	switch t {
	case Word:
		return "word"
	case LegacyWord:
		return "legacy-word"
	case PDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// EmbeddedImage is one raw encoded image pulled out of a document container.
type EmbeddedImage struct {
	Index int    // Position in document order
	Name  string // Container-internal reference (part name, object number, ...)
	Data  []byte
}

// Rect is an axis-aligned detection box in source image pixels.
type Rect struct {
	X, Y, W, H int
}

// Rectangle converts r to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Face is a cropped, resized face taken from one embedded image.
type Face struct {
	ImageIndex int
	Rect       Rect
	Image      image.Image
}

// Empty reports whether the face has no pixels to write.
func (f Face) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}

// FaceOutcome is the result of writing a single face to disk.
type FaceOutcome struct {
	Index int // Output index, counts non-empty faces only
	Path  string
	Face  Face
	Err   error
}

// FileStatus is the terminal state of one document in a run.
type FileStatus string

const (
	StatusDone    FileStatus = "done"
	StatusNoFaces FileStatus = "no_faces"
	StatusSkipped FileStatus = "skipped"
	StatusFailed  FileStatus = "failed"
)

// FileResult is what the driver knows about a document once it is processed.
type FileResult struct {
	Path       string
	Name       string
	Type       DocumentType
	DocumentID string
	BaseName   string // Output base name after collision handling
	Images     int
	Faces      []FaceOutcome
	Status     FileStatus
	Err        error
	Duration   time.Duration
}

// Written counts the faces that made it to disk.
func (r FileResult) Written() int {
	n := 0
	for _, f := range r.Faces {
		if f.Err == nil {
			n++
		}
	}
	return n
}

// RunSummary aggregates a full batch run.
type RunSummary struct {
	ID           uuid.UUID
	InputDir     string
	OutputDir    string
	StartedAt    time.Time
	FinishedAt   time.Time
	Files        int
	Done         int
	NoFaces      int
	Skipped      int
	Failed       int
	FacesWritten int
}

// Add folds a file result into the summary counters.
func (s *RunSummary) Add(r FileResult) {
	s.Files++
	switch r.Status {
	case StatusDone:
		s.Done++
	case StatusNoFaces:
		s.NoFaces++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.FacesWritten += r.Written()
}
