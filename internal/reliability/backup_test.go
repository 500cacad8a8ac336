package reliability

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageCompressed_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "run.db")
	content := []byte("pretend this is a sqlite file")
	require.NoError(t, os.WriteFile(dbPath, content, 0644))

	s := &BackupService{log: zerolog.Nop()}
	staged, err := s.stageCompressed(dbPath)
	require.NoError(t, err)
	defer os.Remove(staged)

	f, err := os.Open(staged)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, content, decompressed)
}

func TestStageCompressed_MissingFile(t *testing.T) {
	s := &BackupService{log: zerolog.Nop()}
	_, err := s.stageCompressed(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestCalculateChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := calculateChecksum(path)
	require.NoError(t, err)
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	again, err := calculateChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}
