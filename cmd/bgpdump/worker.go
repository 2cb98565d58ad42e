// Worker pool driving bgpdump's file scan: a stringiter/StringArray
// file-list iterator feeds a fixed pool of goroutines, each running
// worker()/dumpFile() against fileutil.MrtFileReader and
// bgpmsg.Message, with output serialized through MultiWriteFile.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CSUNetSec/bgpcore/fileutil"
	"github.com/CSUNetSec/bgpcore/filter"
	"github.com/CSUNetSec/bgpcore/mrt"
	"github.com/CSUNetSec/bgpcore/vm"
)

var errNoMoreFiles = errors.New("bgpdump: no more files")

// stringiter yields one file path per call.
type stringiter interface {
	Next() (string, error)
}

// StringArray is a stringiter over a fixed, pre-known file list (the
// common case: file names given on the command line).
type StringArray struct {
	data []string
	cur  int
}

func NewStringArray(files []string) *StringArray { return &StringArray{data: files} }

func (s *StringArray) Next() (string, error) {
	if s.cur >= len(s.data) {
		return "", errNoMoreFiles
	}
	str := s.data[s.cur]
	s.cur++
	return str, nil
}

// MultiWriteFile serializes concurrent writes from worker goroutines
// onto one *os.File, discarding output if base is nil -- a convenience
// for /dev/null-ing unwanted log/stat streams.
type MultiWriteFile struct {
	base *os.File
	mu   sync.Mutex
}

func NewMultiWriteFile(fd *os.File) *MultiWriteFile { return &MultiWriteFile{base: fd} }

func (m *MultiWriteFile) WriteString(s string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base == nil {
		return 0, nil
	}
	return m.base.WriteString(s)
}

func (m *MultiWriteFile) Close() error {
	if m.base == nil {
		return nil
	}
	return m.base.Close()
}

// DumpConfig is the full parameter set for a run.
type DumpConfig struct {
	workers  int
	source   stringiter
	fmtr     Formatter
	filters  []filter.Filter
	opts     mrt.RebuildOptions
	dump     *MultiWriteFile
	log      *MultiWriteFile
	stat     *MultiWriteFile
	logger   *zap.Logger
	counters *vm.Counters
	// record, when non-nil, receives the framed wire bytes of every
	// message that passes dc.filters, so a run can be replayed later
	// without re-scanning and re-filtering the source archives.
	// RecordFile serializes concurrent writers internally.
	record *fileutil.RecordFile
}

func (dc *DumpConfig) CloseAll() {
	dc.dump.Close()
	dc.log.Close()
	dc.stat.Close()
	if dc.record != nil {
		dc.record.Close()
	}
}

// run launches dc.workers goroutines pulling from dc.source until it
// is exhausted, then summarizes the formatter and returns.
func run(dc *DumpConfig) {
	start := time.Now()
	wg := &sync.WaitGroup{}
	for w := 0; w < dc.workers; w++ {
		wg.Add(1)
		go worker(dc, wg)
	}
	wg.Wait()
	dc.fmtr.summarize()
	dc.stat.WriteString(fmt.Sprintf("Total time taken: %s\n", time.Since(start)))
}

func worker(dc *DumpConfig, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		name, err := dc.source.Next()
		if err != nil {
			if err != errNoMoreFiles {
				dc.logger.Warn("file source exhausted with an error", zap.Error(err))
			}
			return
		}
		dumpFile(name, dc)
	}
}

// dumpFile opens one MRT archive, streams every message through
// dc.filters, and formats+writes whatever passes.
func dumpFile(name string, dc *DumpConfig) {
	r, err := fileutil.NewMrtFileReader(name, dc.filters, dc.opts, dc.logger)
	if err != nil {
		dc.log.WriteString(fmt.Sprintf("error opening %s: %s\n", name, err))
		return
	}
	defer r.Close()

	entryCt, passedCt := 0, 0
	start := time.Now()
	for r.Scan() {
		entryCt++
		msg, err := r.Message()
		if err != nil {
			dc.log.WriteString(fmt.Sprintf("[%s %d] %s\n", name, entryCt, err))
			continue
		}
		if dc.counters != nil && dc.counters.Runs != nil {
			dc.counters.Runs.Inc()
		}
		passedCt++
		if dc.counters != nil && dc.counters.Matches != nil {
			dc.counters.Matches.Inc()
		}
		out, err := dc.fmtr.format(entryCt, msg)
		if err != nil {
			dc.log.WriteString(fmt.Sprintf("[%s %d] format error: %s\n", name, entryCt, err))
			continue
		}
		dc.dump.WriteString(out)
		if dc.record != nil {
			if wire, err := msg.Bytes(); err != nil {
				dc.log.WriteString(fmt.Sprintf("[%s %d] replay-archive encode error: %s\n", name, entryCt, err))
			} else if _, err := dc.record.Write(wire); err != nil {
				dc.log.WriteString(fmt.Sprintf("[%s %d] replay-archive write error: %s\n", name, entryCt, err))
			}
		}
	}
	if err := r.Err(); err != nil {
		dc.log.WriteString(fmt.Sprintf("scanner error in %s: %s\n", name, err))
		return
	}
	dc.stat.WriteString(fmt.Sprintf("%s: %d entries, %d passed filters, in %v\n", name, entryCt, passedCt, time.Since(start)))
}
