// Package format defines the shared binary envelope used by every
// persisted file under a collection's root (spec §6): a magic number, a
// one-byte format version, an arbitrary payload, and a trailing CRC32
// footer. HNSW snapshots, text segments, B-tree pages and WAL records all
// wrap their payload with Header/Footer from this package so a reader can
// validate framing before trusting the payload.
package format

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/crc32"
)

// Magic is the four-byte ASCII magic "ANDA" that opens every persisted
// file (spec §6).
const Magic uint32 = 0x414E4441

// Version is the current on-disk format version.
const Version uint8 = 1

// HeaderSize is the fixed size, in bytes, of the leading envelope.
const HeaderSize = 4 + 1 + 1 // magic + version + kind

// FooterSize is the fixed size, in bytes, of the trailing CRC32 footer.
const FooterSize = 4

// Kind tags the payload that follows the header, so a generic file reader
// can refuse to interpret e.g. a text segment as an HNSW snapshot.
type Kind uint8

const (
	KindHNSWSnapshot Kind = iota + 1
	KindHNSWLog
	KindTextSegment
	KindBTreePage
	KindWALSegment
	KindManifest
	KindDocBlob
)

// WriteHeader writes the magic/version/kind envelope.
func WriteHeader(w io.Writer, kind Kind) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = byte(kind)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates the magic/version/kind envelope.
func ReadHeader(r io.Reader, want Kind) error {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("format: read header: %w", err)
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return fmt.Errorf("format: bad magic %#x", magic)
	}
	version := buf[4]
	if version != Version {
		return fmt.Errorf("format: unsupported version %d", version)
	}
	kind := Kind(buf[5])
	if kind != want {
		return fmt.Errorf("format: unexpected file kind %d, want %d", kind, want)
	}
	return nil
}

// ChecksumWriter wraps an io.Writer and accumulates a running CRC32 (IEEE)
// checksum of everything written through it, so the footer can be
// appended without buffering the whole payload in memory.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

// NewChecksumWriter wraps w.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hash: crc32.NewIEEE()}
}

func (c *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		_, _ = c.hash.Write(p[:n])
	}
	return n, err
}

// WriteFooter appends the accumulated CRC32 footer.
func (c *ChecksumWriter) WriteFooter() error {
	var buf [FooterSize]byte
	binary.LittleEndian.PutUint32(buf[:], c.hash.Sum32())
	_, err := c.w.Write(buf[:])
	return err
}

// Sum32 returns the checksum accumulated so far without writing it.
func (c *ChecksumWriter) Sum32() uint32 { return c.hash.Sum32() }

// VerifyFooter reads a trailing CRC32 footer from the tail of data and
// validates it against the checksum of data[:len(data)-FooterSize].
func VerifyFooter(data []byte) error {
	if len(data) < FooterSize {
		return fmt.Errorf("format: truncated footer")
	}
	split := len(data) - FooterSize
	want := binary.LittleEndian.Uint32(data[split:])
	got := crc32.ChecksumIEEE(data[:split])
	if want != got {
		return fmt.Errorf("format: checksum mismatch: file %#x, computed %#x", want, got)
	}
	return nil
}
