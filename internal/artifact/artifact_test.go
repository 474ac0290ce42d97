package artifact

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/subgen/pkg/api"
)

func newArtifact(name, body string) *api.Artifact {
	return &api.Artifact{
		Body:     io.NopCloser(strings.NewReader(body)),
		Size:     int64(len(body)),
		Filename: name,
	}
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	path, err := Save(context.Background(), newArtifact("talk.srt", "hello"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "talk.srt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// A second download of the same name does not clobber the first
	path2, err := Save(context.Background(), newArtifact("talk.srt", "again"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "talk-1.srt"), path2)

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 2, "temporary files must not be left behind")
}

func TestSaveStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	path, err := Save(context.Background(), newArtifact("../../etc/passwd", "x"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), path)

	for _, name := range []string{"..", "../..", "a/.."} {
		path, err := Save(context.Background(), newArtifact(name, "x"), dir)
		require.NoError(t, err, name)
		assert.Equal(t, dir, filepath.Dir(path), name)
		assert.Contains(t, filepath.Base(path), "subtitles", name)
	}
}

func TestSaveUnknownLength(t *testing.T) {
	art := newArtifact("", "streamed")
	art.Size = -1

	path, err := Save(context.Background(), art, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "subtitles.zip", filepath.Base(path))
}

func TestSaveShortBody(t *testing.T) {
	dir := t.TempDir()
	art := newArtifact("a.srt", "abc")
	art.Size = 10

	_, err := Save(context.Background(), art, dir)
	assert.Error(t, err)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestSaveInsufficientSpace(t *testing.T) {
	art := newArtifact("huge.mp4", "")
	art.Size = math.MaxInt64

	_, err := Save(context.Background(), art, t.TempDir())
	assert.True(t, errors.Is(err, ErrInsufficientSpace))
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestSaveClosesBody(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("x")}
	_, err := Save(context.Background(), &api.Artifact{Body: body, Size: 1, Filename: "x"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, body.closed)
}
