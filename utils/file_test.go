package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result_1.png")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileAtomicMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "result.png")
	assert.Error(t, WriteFileAtomic(path, []byte("x"), 0o644))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestResultName(t *testing.T) {
	tests := []struct {
		upload string
		want   string
	}{
		{"1700000000.jpg", "result_1700000000.jpg"},
		{"photo.JPEG", "result_photo.jpeg"},
		{"me.png", "result_me.png"},
		{"me.webp", "result_me.png"},
		{"../../etc/me.png", "result_me.png"},
		{"noext", "result_noext.png"},
	}

	for _, tt := range tests {
		t.Run(tt.upload, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultName("result_", tt.upload))
		})
	}
}

func TestOverlayKeyAndMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", BytesMD5(nil))
	assert.Equal(t, "abc:tee01", OverlayKey("abc", "tee01"))
}
