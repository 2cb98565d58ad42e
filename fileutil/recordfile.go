package fileutil

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var (
	errNotOpen = errors.New("fileutil: record file not open")
	errOpen    = errors.New("fileutil: record file already open")
	errBufSize = errors.New("fileutil: buffer sizes can't be negative")
)

// RecordFile stores a sequence of length-prefixed byte records --
// each one preceded by its big-endian uint32 length -- so a reader
// can split them back out without needing an index. Used to persist
// the raw wire bytes of filtered bgpmsg.Messages for later replay.
// The framing is generic: it carries any byte payload, not just a
// particular encoding.
type RecordFile struct {
	fname  string
	fp     *os.File
	writer *bufio.Writer
	reader *bufio.Reader

	// Scanner reads records back out once Open has been called; its
	// SplitFunc is splitRecord.
	Scanner *bufio.Scanner

	sz    int64
	mux   *sync.RWMutex
	wpend bool
}

// NewRecordFile returns a RecordFile bound to fname, unopened.
func NewRecordFile(fname string) *RecordFile {
	return &RecordFile{fname: fname, mux: &sync.RWMutex{}}
}

func (p *RecordFile) Fname() string { return p.fname }

// Open opens (creating if necessary) the underlying file with default
// buffer sizes.
func (p *RecordFile) Open() error {
	return p.OpenWithBufferSizes(0, 0)
}

// OpenWithBufferSizes is Open with explicit reader/writer buffer
// sizes, useful when records run larger than bufio's default 4K.
func (p *RecordFile) OpenWithBufferSizes(readerSize, writerSize int) error {
	if p.fp != nil {
		return errOpen
	}
	if readerSize < 0 || writerSize < 0 {
		return errBufSize
	}
	fp, err := os.OpenFile(p.fname, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0660)
	if err != nil {
		return errors.Wrap(err, "fileutil: opening record file")
	}
	p.fp = fp
	if writerSize == 0 {
		p.writer = bufio.NewWriter(p.fp)
	} else {
		p.writer = bufio.NewWriterSize(p.fp, writerSize)
	}
	if readerSize == 0 {
		p.reader = bufio.NewReader(p.fp)
	} else {
		p.reader = bufio.NewReaderSize(p.fp, readerSize)
	}
	p.Scanner = bufio.NewScanner(p.reader)
	p.Scanner.Split(splitRecord)
	return nil
}

// Write implements io.Writer, framing b behind its big-endian uint32
// length. Writes here go through the buffered writer, not straight to
// disk; call Flush (or Close) to force them out.
func (p *RecordFile) Write(b []byte) (int, error) {
	if p.fp == nil {
		return 0, errNotOpen
	}
	p.mux.Lock()
	defer p.mux.Unlock()
	if err := binary.Write(p.writer, binary.BigEndian, uint32(len(b))); err != nil {
		return 0, err
	}
	n, err := p.writer.Write(b)
	p.wpend = true
	if err != nil {
		return 0, err
	}
	p.sz += int64(n)
	return n, nil
}

// Read implements io.Reader directly against the file, flushing any
// pending buffered writes first so a reader never sees a torn record.
func (p *RecordFile) Read(b []byte) (int, error) {
	if p.fp == nil {
		return 0, errNotOpen
	}
	if p.wpend {
		if err := p.Flush(); err != nil {
			return 0, err
		}
	}
	p.mux.RLock()
	defer p.mux.RUnlock()
	return p.fp.Read(b)
}

func (p *RecordFile) Flush() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Flush(); err != nil {
		return err
	}
	p.wpend = false
	return nil
}

// Close flushes and closes the underlying file.
func (p *RecordFile) Close() error {
	p.Flush()
	if p.fp == nil {
		return errNotOpen
	}
	return p.fp.Close()
}

// splitRecord is a bufio.SplitFunc pairing with Write's framing: it
// reads the 4-byte length prefix and waits for that many body bytes
// before returning a token.
func splitRecord(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) < 4 {
		return 0, nil, nil
	}
	var recLen uint32
	binary.Read(bytes.NewReader(data[:4]), binary.BigEndian, &recLen)
	total := int(4 + recLen)
	if len(data) < total {
		return 0, nil, nil
	}
	return total, data[4:total], nil
}
