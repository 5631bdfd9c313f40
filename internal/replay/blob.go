package replay

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Compression names a blob or index encoding.
type Compression string

// Supported encodings. Brotli has no magic number and is recognised by the
// ".br" file extension only.
const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionBzip2  Compression = "bzip2"
	CompressionXZ     Compression = "xz"
	CompressionBrotli Compression = "br"
)

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXZ    = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
)

// ParseCompression maps a user supplied name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "bzip2", "bz2":
		return CompressionBzip2, nil
	case "xz":
		return CompressionXZ, nil
	case "br", "brotli":
		return CompressionBrotli, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Extension is the conventional file suffix, empty for CompressionNone.
func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionBzip2:
		return ".bz2"
	case CompressionXZ:
		return ".xz"
	case CompressionBrotli:
		return ".br"
	default:
		return ""
	}
}

// decompressReader pairs a decompressor with the closers beneath it.
type decompressReader struct {
	io.Reader
	closers []io.Closer
}

func (d *decompressReader) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenBlob opens a capture file, transparently decompressing it.
func OpenBlob(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, replayErr(KindBlob, -1, path, err)
	}
	rc, err := NewBlobReader(f, filepath.Base(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &decompressReader{Reader: rc, closers: []io.Closer{rc, f}}, nil
}

// NewBlobReader wraps r with the decompressor its leading magic bytes call
// for. name is only consulted for the brotli extension.
func NewBlobReader(r io.Reader, name string) (io.ReadCloser, error) {
	if strings.HasSuffix(strings.ToLower(name), CompressionBrotli.Extension()) {
		return io.NopCloser(brotli.NewReader(r)), nil
	}

	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(len(magicXZ))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, replayErr(KindBlob, -1, "reading magic bytes", err)
	}

	switch {
	case bytes.HasPrefix(magic, magicGzip):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, replayErr(KindBlob, -1, "creating gzip reader", err)
		}
		return gz, nil
	case bytes.HasPrefix(magic, magicBzip2):
		bz, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, replayErr(KindBlob, -1, "creating bzip2 reader", err)
		}
		return bz, nil
	case bytes.HasPrefix(magic, magicXZ):
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, replayErr(KindBlob, -1, "creating xz reader", err)
		}
		return io.NopCloser(xzr), nil
	default:
		return io.NopCloser(br), nil
	}
}

// NewCompressWriter wraps w with an encoder. Closing the result flushes the
// encoder but leaves w open.
func NewCompressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionBzip2:
		bz, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 writer: %w", err)
		}
		return bz, nil
	case CompressionXZ:
		xzw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xzw, nil
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// cursor reads packets from a blob strictly forward.
type cursor struct {
	r   io.Reader
	pos int64
}

// read returns the bytes of p. Gaps are skipped by discarding; an offset
// behind the cursor is an error since the blob cannot seek.
func (c *cursor) read(p PacketRecord) ([]byte, error) {
	if p.Offset < c.pos {
		return nil, replayErr(KindNonSequentialOffset, p.Seq,
			fmt.Sprintf("offset %d behind cursor %d", p.Offset, c.pos), nil)
	}
	if gap := p.Offset - c.pos; gap > 0 {
		n, err := io.CopyN(io.Discard, c.r, gap)
		c.pos += n
		if err != nil {
			return nil, replayErr(KindShortRead, p.Seq, fmt.Sprintf("skipping to offset %d", p.Offset), err)
		}
	}
	buf := make([]byte, p.Length)
	n, err := io.ReadFull(c.r, buf)
	c.pos += int64(n)
	if err != nil {
		return nil, replayErr(KindShortRead, p.Seq, fmt.Sprintf("read %d of %d bytes", n, p.Length), err)
	}
	return buf, nil
}
