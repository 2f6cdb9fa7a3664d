package source

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultMaxFileBytes bounds the size of a single source file.
const DefaultMaxFileBytes = 5 << 20

// ErrFileTooLarge is wrapped by ReadError when a file exceeds the size limit.
var ErrFileTooLarge = errors.New("file too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// File is a decoded source file.
type File struct {
	Path     string
	Text     string
	Encoding string
	Hash     string
	Size     int
}

// DecodeError reports a file whose bytes could not be decoded as text.
type DecodeError struct {
	Path     string
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Encoding != "" {
		return fmt.Sprintf("decode %s as %s: %v", e.Path, e.Encoding, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ReadError reports a file that could not be read from disk.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.Path, e.Err) }

func (e *ReadError) Unwrap() error { return e.Err }

// Detector guesses the character set of raw bytes.
type Detector interface {
	Detect(data []byte) (charset string, err error)
}

// chardetDetector is the statistical detector used by default.
type chardetDetector struct {
	td *chardet.Detector
}

func (d chardetDetector) Detect(data []byte) (string, error) {
	res, err := d.td.DetectBest(data)
	if err != nil {
		return "", err
	}
	return res.Charset, nil
}

// charsetAliases maps detector names that the encoding indexes do not know.
var charsetAliases = map[string]string{
	"gb-18030":     "gb18030",
	"iso-8859-8-i": "iso-8859-8",
}

// Reader loads and decodes source files.
type Reader struct {
	detector Detector
	maxBytes int64
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithDetector replaces the statistical encoding detector.
func WithDetector(d Detector) ReaderOption {
	return func(r *Reader) { r.detector = d }
}

// WithMaxFileBytes sets the size limit; non-positive values disable it.
func WithMaxFileBytes(n int64) ReaderOption {
	return func(r *Reader) { r.maxBytes = n }
}

// NewReader creates a Reader.
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{
		detector: chardetDetector{td: chardet.NewTextDetector()},
		maxBytes: DefaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read loads path and decodes it. Empty files decode to empty text.
func (r *Reader) Read(path string) (*File, error) {
	if r.maxBytes > 0 {
		if st, err := os.Stat(path); err == nil && st.Size() > r.maxBytes {
			return nil, &ReadError{Path: path, Err: fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, st.Size(), r.maxBytes)}
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return r.Decode(path, raw)
}

// Decode turns raw bytes into a File.
func (r *Reader) Decode(path string, raw []byte) (*File, error) {
	f := &File{Path: path, Size: len(raw), Hash: fmt.Sprintf("%016x", xxh3.Hash(raw))}
	if len(raw) == 0 {
		f.Encoding = "utf-8"
		return f, nil
	}

	body := bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(body) {
		if bytes.IndexByte(body, 0) >= 0 {
			return nil, &DecodeError{Path: path, Encoding: "utf-8", Err: errors.New("content contains NUL bytes")}
		}
		f.Encoding = "utf-8"
		f.Text = string(body)
		return f, nil
	}

	charset, err := r.detector.Detect(raw)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("detect encoding: %w", err)}
	}
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, &DecodeError{Path: path, Encoding: charset, Err: err}
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, &DecodeError{Path: path, Encoding: charset, Err: err}
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return nil, &DecodeError{Path: path, Encoding: charset, Err: errors.New("invalid byte sequence")}
	}
	if bytes.IndexByte(decoded, 0) >= 0 {
		return nil, &DecodeError{Path: path, Encoding: charset, Err: errors.New("content contains NUL bytes")}
	}
	f.Encoding = strings.ToLower(charset)
	f.Text = string(bytes.TrimPrefix(decoded, utf8BOM))
	return f, nil
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if alias, ok := charsetAliases[name]; ok {
		name = alias
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", charset, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", charset)
	}
	return enc, nil
}
