package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDetector struct {
	charset string
	err     error
}

func (d fixedDetector) Detect([]byte) (string, error) { return d.charset, d.err }

func TestReader_UTF8(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.py")
	require.NoError(t, os.WriteFile(p, []byte("name = 'Grüße'\n"), 0o644))

	f, err := NewReader().Read(p)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", f.Encoding)
	assert.Equal(t, "name = 'Grüße'\n", f.Text)
	assert.Len(t, f.Hash, 16)
}

func TestReader_StripsBOM(t *testing.T) {
	f, err := NewReader().Decode("a.py", append([]byte{0xEF, 0xBB, 0xBF}, "x = 1"...))
	require.NoError(t, err)
	assert.Equal(t, "x = 1", f.Text)
}

func TestReader_EmptyFileIsValid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.py")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	f, err := NewReader().Read(p)
	require.NoError(t, err)
	assert.Equal(t, "", f.Text)
	assert.Equal(t, 0, f.Size)
}

func TestReader_DetectedLegacyEncoding(t *testing.T) {
	// "café" in latin-1: 0xE9 is not valid UTF-8 on its own.
	raw := []byte("s = 'caf\xe9'\n")
	r := NewReader(WithDetector(fixedDetector{charset: "ISO-8859-1"}))

	f, err := r.Decode("latin.py", raw)
	require.NoError(t, err)
	assert.Equal(t, "s = 'café'\n", f.Text)
	assert.Equal(t, "iso-8859-1", f.Encoding)
}

func TestReader_DetectedEncodingStripsBOM(t *testing.T) {
	// "x = 1\n" in UTF-16LE with its byte order mark.
	raw := []byte{0xFF, 0xFE, 'x', 0, ' ', 0, '=', 0, ' ', 0, '1', 0, '\n', 0}
	r := NewReader(WithDetector(fixedDetector{charset: "UTF-16LE"}))

	f, err := r.Decode("wide.py", raw)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", f.Text)
	assert.Equal(t, "utf-16le", f.Encoding)
}

func TestReader_DecodeErrors(t *testing.T) {
	raw := []byte("s = '\xff\xfe\xfd'")
	tests := []struct {
		name     string
		detector Detector
	}{
		{"detection fails", fixedDetector{err: errors.New("no charset")}},
		{"unknown charset", fixedDetector{charset: "x-klingon"}},
		{"invalid sequence", fixedDetector{charset: "UTF-8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(WithDetector(tt.detector)).Decode("bad.py", raw)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "bad.py", de.Path)
		})
	}
}

func TestReader_NULBytesAreDecodeErrors(t *testing.T) {
	_, err := NewReader().Decode("bin.py", []byte("x = 1\x00\x00"))
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestReader_MissingFile(t *testing.T) {
	_, err := NewReader().Read(filepath.Join(t.TempDir(), "missing.py"))
	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReader_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.py")
	require.NoError(t, os.WriteFile(p, make([]byte, 64), 0o644))

	_, err := NewReader(WithMaxFileBytes(10)).Read(p)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestReader_HashIsStable(t *testing.T) {
	r := NewReader()
	a, err := r.Decode("a.py", []byte("x = 1"))
	require.NoError(t, err)
	b, err := r.Decode("b.py", []byte("x = 1"))
	require.NoError(t, err)
	c, err := r.Decode("c.py", []byte("x = 2"))
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
}
