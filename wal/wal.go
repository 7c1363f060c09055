// Package wal provides write-ahead logging shared by the collection
// manager's transaction log (spec §6 wal/<seq>.log), the HNSW tail log
// that follows a snapshot (hnsw/log-<v>.bin), and the B-tree's page
// mutation log. All three are the same append-only, checksummed record
// stream; only the payload interpretation differs by caller.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ldclabs/anda-db/format"
)

// DurabilityMode trades off latency against durability for fsync timing,
// mirroring the teacher's wal.DurabilityMode.
type DurabilityMode uint8

const (
	// DurabilitySync fsyncs after every record: slowest, most durable.
	DurabilitySync DurabilityMode = iota
	// DurabilityGroupCommit batches fsyncs on an interval or op-count
	// threshold, whichever comes first.
	DurabilityGroupCommit
	// DurabilityAsync never fsyncs from the write path; the host is
	// responsible for periodic checkpoints.
	DurabilityAsync
)

// Options configures a WAL instance.
type Options struct {
	Path                string
	FileName            string
	Compress            bool
	DurabilityMode      DurabilityMode
	GroupCommitInterval time.Duration
	GroupCommitMaxOps   int
}

// DefaultOptions matches the teacher's conservative defaults: synchronous
// durability, no compression, until the caller opts into a faster mode.
var DefaultOptions = Options{
	FileName:            "wal.log",
	DurabilityMode:      DurabilitySync,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   64,
}

// Record is a single logged operation: an opaque opcode plus payload, a
// monotonic sequence number for ordering, and (for the collection WAL) the
// transaction it belongs to.
type Record struct {
	SeqNum  uint64
	TxID    uint64
	Op      uint8
	Payload []byte
}

// WAL is an append-only, checksummed record log.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	enc      *zstd.Encoder
	compress bool
	seqNum   uint64
	filePath string

	durability  DurabilityMode
	pending     int
	maxPending  int
	ticker      *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// Open opens or creates the WAL file at opts.Path/opts.FileName, replaying
// nothing itself — callers use Replay to recover committed records and
// then call Open again (or reuse the same handle) to continue appending.
func Open(optFns ...func(*Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FileName == "" {
		opts.FileName = "wal.log"
	}
	if err := os.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}
	filePath := filepath.Join(opts.Path, opts.FileName)

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}

	w := &WAL{
		file:       f,
		filePath:   filePath,
		compress:   opts.Compress,
		durability: opts.DurabilityMode,
		maxPending: opts.GroupCommitMaxOps,
	}

	lastSeq, err := scanLastSeqNum(filePath, opts.Compress)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: scan: %w", err)
	}
	w.seqNum = lastSeq

	if opts.Compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("wal: zstd writer: %w", err)
		}
		w.enc = enc
		w.buf = bufio.NewWriter(enc)
	} else {
		w.buf = bufio.NewWriter(f)
	}

	if opts.DurabilityMode == DurabilityGroupCommit && opts.GroupCommitInterval > 0 {
		w.ticker = time.NewTicker(opts.GroupCommitInterval)
		w.stopCh = make(chan struct{})
		w.wg.Add(1)
		go w.groupCommitLoop()
	}

	return w, nil
}

func (w *WAL) groupCommitLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			_ = w.flushAndSyncLocked()
			w.mu.Unlock()
			return
		case <-w.ticker.C:
			w.mu.Lock()
			_ = w.flushAndSyncLocked()
			w.mu.Unlock()
		}
	}
}

// FilePath returns the path to the underlying log file.
func (w *WAL) FilePath() string { return w.filePath }

// Append writes one record and applies the WAL's durability policy. The
// record's assigned sequence number is returned.
func (w *WAL) Append(op uint8, txID uint64, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seqNum++
	rec := Record{SeqNum: w.seqNum, TxID: txID, Op: op, Payload: payload}

	if err := writeRecord(w.buf, rec); err != nil {
		return 0, fmt.Errorf("wal: write record: %w", err)
	}

	switch w.durability {
	case DurabilitySync:
		if err := w.flushAndSyncLocked(); err != nil {
			return 0, err
		}
	case DurabilityGroupCommit:
		w.pending++
		if w.pending >= w.maxPending {
			if err := w.flushAndSyncLocked(); err != nil {
				return 0, err
			}
		}
	case DurabilityAsync:
		if err := w.buf.Flush(); err != nil {
			return 0, fmt.Errorf("wal: flush: %w", err)
		}
	}

	return rec.SeqNum, nil
}

func (w *WAL) flushAndSyncLocked() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.enc != nil {
		// zstd frames must be closed to be readable independently, but
		// closing ends the stream; instead we rely on bufio.Flush above
		// plus Sync on the underlying file for durability of what has
		// been written to the OS page cache so far.
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	w.pending = 0
	return nil
}

// Checkpoint truncates the log to empty, to be called after the owner has
// durably flushed all state the log covers (a collection commit, an HNSW
// snapshot, a B-tree checkpoint).
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.seqNum = 0
	return nil
}

// Close flushes and closes the WAL.
func (w *WAL) Close() error {
	if w.stopCh != nil {
		close(w.stopCh)
		w.wg.Wait()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.enc != nil {
		_ = w.enc.Close()
	}
	return w.file.Close()
}

// writeRecord frames one record as: [format.Header][1B op][8B
// seqnum][8B txid][4B payload len][payload][CRC32 footer].
func writeRecord(w io.Writer, rec Record) error {
	cw := format.NewChecksumWriter(w)
	if err := format.WriteHeader(cw, format.KindWALSegment); err != nil {
		return err
	}
	var hdr [21]byte
	hdr[0] = rec.Op
	binary.LittleEndian.PutUint64(hdr[1:9], rec.SeqNum)
	binary.LittleEndian.PutUint64(hdr[9:17], rec.TxID)
	binary.LittleEndian.PutUint32(hdr[17:21], uint32(len(rec.Payload)))
	if _, err := cw.Write(hdr[:]); err != nil {
		return err
	}
	if len(rec.Payload) > 0 {
		if _, err := cw.Write(rec.Payload); err != nil {
			return err
		}
	}
	return cw.WriteFooter()
}

// readRecord reads one framed record, validating its header and footer.
func readRecord(r io.Reader) (Record, error) {
	if err := format.ReadHeader(r, format.KindWALSegment); err != nil {
		return Record{}, err
	}
	var hdr [21]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, err
	}
	payloadLen := binary.LittleEndian.Uint32(hdr[17:21])
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Record{}, err
		}
	}
	var footer [format.FooterSize]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return Record{}, err
	}
	whole := make([]byte, 0, format.HeaderSize+len(hdr)+len(payload)+format.FooterSize)
	// Recompute checksum over header+body to validate footer.
	var tmp [format.HeaderSize]byte
	binary.BigEndian.PutUint32(tmp[0:4], format.Magic)
	tmp[4] = format.Version
	tmp[5] = byte(format.KindWALSegment)
	whole = append(whole, tmp[:]...)
	whole = append(whole, hdr[:]...)
	whole = append(whole, payload...)
	whole = append(whole, footer[:]...)
	if err := format.VerifyFooter(whole); err != nil {
		return Record{}, err
	}

	rec := Record{
		Op:      hdr[0],
		SeqNum:  binary.LittleEndian.Uint64(hdr[1:9]),
		TxID:    binary.LittleEndian.Uint64(hdr[9:17]),
		Payload: payload,
	}
	return rec, nil
}

// Replay reads every committed record in file order, calling fn for each.
// fn returning an error stops replay and the error propagates; io.EOF is
// swallowed as the normal end of a well-formed log. A trailing partial
// (corrupted) record is treated as the unflushed tail and silently
// dropped, per spec §6/§9's recovery model.
func Replay(path string, compress bool, fn func(Record) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if compress {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("wal: zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	br := bufio.NewReader(r)
	n := 0
	for {
		rec, err := readRecord(br)
		if err != nil {
			if err == io.EOF {
				break
			}
			// Truncated/corrupt tail: stop here, this is the unflushed
			// tail left by a crash mid-write.
			break
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func scanLastSeqNum(path string, compress bool) (uint64, error) {
	var last uint64
	_, err := Replay(path, compress, func(rec Record) error {
		if rec.SeqNum > last {
			last = rec.SeqNum
		}
		return nil
	})
	return last, err
}
