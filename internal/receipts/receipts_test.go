package receipts

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndPath(t *testing.T) {
	s, err := NewStore(t.TempDir(), 16)
	require.NoError(t, err)

	url, err := s.Save("Gas Receipt.JPG", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, URLPrefix))
	require.True(t, strings.HasSuffix(url, ".jpg"))

	path, ct, err := s.Path(strings.TrimPrefix(url, URLPrefix))
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", ct)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(b))

	require.NoError(t, s.Remove(url))
	_, err = os.Stat(path)
	require.True(t, errors.Is(err, os.ErrNotExist))
	require.NoError(t, s.Remove(url))
}

func TestStore_SaveRejects(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, 4)
	require.NoError(t, err)

	_, err = s.Save("script.sh", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save("big.png", bytes.NewReader(make([]byte, 5)))
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Save("empty.pdf", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmpty)

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, left, "rejected uploads must not leave files behind")
}

func TestStore_PathRejectsTraversal(t *testing.T) {
	s, err := NewStore(t.TempDir(), 4)
	require.NoError(t, err)

	for _, name := range []string{"../etc/passwd", "notauuid.png", "0b5f6a8e-3a0c-4c52-9f3e-0d6f1b1a2c3d.exe", "a/b.png"} {
		_, _, err := s.Path(name)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
}
