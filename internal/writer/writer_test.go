package writer

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facextract/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func face(size int) types.Face {
	return types.Face{Image: image.NewRGBA(image.Rect(0, 0, size, size))}
}

func newObserved() (*Writer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core)), logs
}

func TestWrite_NamesWithoutGaps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "faces", "nested")
	w, _ := newObserved()

	faces := []types.Face{face(128), {}, face(128), {Image: image.NewRGBA(image.Rect(0, 0, 0, 0))}, face(128)}
	outcomes, err := w.Write(faces, dir, "resume_face-%d.png")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	for i, out := range outcomes {
		assert.Equal(t, i, out.Index)
		assert.NoError(t, out.Err)

		want := filepath.Join(dir, "resume_face-"+string(rune('0'+i))+".png")
		assert.Equal(t, want, out.Path)

		f, err := os.Open(want)
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 128, img.Bounds().Dx())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWrite_ExistingFolderUntouched(t *testing.T) {
	dir := t.TempDir()
	unrelated := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep me"), 0644))

	w, _ := newObserved()
	_, err := w.Write([]types.Face{face(16)}, dir, "cv_face-%d.png")
	require.NoError(t, err)

	data, err := os.ReadFile(unrelated)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
	assert.FileExists(t, filepath.Join(dir, "cv_face-0.png"))
}

func TestWrite_FailureContinues(t *testing.T) {
	dir := t.TempDir()
	// A directory squatting on the first file name makes that write fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "doc_face-0.png"), 0755))

	w, logs := newObserved()
	outcomes, err := w.Write([]types.Face{face(32), face(32)}, dir, "doc_face-%d.png")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
	assert.FileExists(t, filepath.Join(dir, "doc_face-1.png"))

	failures := logs.FilterMessage("Failed to write face").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Equal(t, filepath.Join(dir, "doc_face-0.png"), failures[0].ContextMap()["path"])
}

func TestWrite_FolderCreationFails(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	w, _ := newObserved()
	_, err := w.Write([]types.Face{face(8)}, filepath.Join(blocker, "out"), "x_face-%d.png")
	assert.ErrorContains(t, err, "create output folder")
}
