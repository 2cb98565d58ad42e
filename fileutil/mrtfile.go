// Package fileutil wires the wire-format packages (mrt, bgpmsg,
// filter) into file-oriented readers and declarative filter config
// loading.
package fileutil

import (
	"bufio"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/filter"
	"github.com/CSUNetSec/bgpcore/mrt"
)

// MrtFileReader wraps an open MRT archive (optionally bzip2
// compressed, detected by the ".bz2" file extension) and yields the
// bgpmsg.Message rebuilt from each BGP4MP/BGP4MP_ET record, or
// synthesized from each TABLE_DUMPv2 RIB_IPV4_UNICAST/RIB_IPV6_UNICAST
// entry, that survives filters.
type MrtFileReader struct {
	in         io.ReadCloser
	scanner    *bufio.Scanner
	filters    []filter.Filter
	opts       mrt.RebuildOptions
	log        *zap.Logger
	err        error
	lastMsg    *bgpmsg.Message
	lastMsgErr error

	// peers holds the PEER_INDEX_TABLE most recently seen in this
	// archive; a TABLE_DUMPv2 dump always writes it before the RIB
	// records that reference its peer indices.
	peers *mrt.PeerIndexTable
	// pending holds messages fanned out from a single RIB record (one
	// per peer entry) still waiting to be handed out by Scan.
	pending []*bgpmsg.Message
}

// NewMrtFileReader opens fname and returns a reader positioned at the
// start of the archive. The caller must call Close() when done;
// entries are pulled with Scan()/Message().
func NewMrtFileReader(fname string, filters []filter.Filter, opts mrt.RebuildOptions, log *zap.Logger) (*MrtFileReader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(fname); err != nil {
		return nil, errors.Wrap(err, "fileutil: stat")
	}
	fp, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "fileutil: open")
	}
	return &MrtFileReader{
		in:      fp,
		scanner: newScanner(fp),
		filters: filters,
		opts:    opts,
		log:     log.With(zap.String("file", fname)),
	}, nil
}

func newScanner(file *os.File) *bufio.Scanner {
	var r io.Reader = file
	if filepath.Ext(file.Name()) == ".bz2" {
		r = bzip2.NewReader(file)
	}
	scanner := bufio.NewScanner(r)
	scanner.Split(mrt.SplitMrt)
	buf := make([]byte, 2<<20) // largest MRT record we tolerate: 2MB
	scanner.Buffer(buf, cap(buf))
	return scanner
}

// Scan advances to the next record that decodes into a bgpmsg.Message
// and passes every filter, returning false once the archive (or the
// scanner itself) is exhausted. Records of unsupported MRT types, or
// that fail filters, are skipped transparently; records that fail to
// decode are logged and skipped rather than aborting the whole scan --
// a single corrupt entry in a multi-gigabyte archive shouldn't sink
// the rest of it.
func (m *MrtFileReader) Scan() bool {
	if m.err != nil {
		return false
	}
	for {
		if len(m.pending) > 0 {
			msg := m.pending[0]
			m.pending = m.pending[1:]
			hit, err := filter.All(m.filters, msg)
			if err != nil {
				m.lastMsg, m.lastMsgErr = nil, errors.Wrap(err, "fileutil: evaluating filters")
				return true
			}
			if !hit {
				continue
			}
			m.lastMsg, m.lastMsgErr = msg, nil
			return true
		}
		if !m.scanner.Scan() {
			m.err = m.scanner.Err()
			return false
		}
		if m.err = m.scanner.Err(); m.err != nil {
			return false
		}
		msgs, err := m.decode(m.scanner.Bytes())
		if err != nil {
			m.log.Warn("skipping unparsable MRT record", zap.Error(err))
			continue
		}
		m.pending = append(m.pending, msgs...)
	}
}

// decode turns a single raw MRT record into zero or more Messages.
// BGP4MP/BGP4MP_ET records yield exactly one. PEER_INDEX_TABLE records
// yield none, just updating m.peers for subsequent RIB records in the
// same dump. RIB_IPV4_UNICAST/RIB_IPV6_UNICAST records yield one
// rebuilt Update per peer entry they carry. Any other record type
// yields none, which Scan treats as a skip rather than an error.
func (m *MrtFileReader) decode(record []byte) ([]*bgpmsg.Message, error) {
	hdr, body, err := mrt.ReadHeader(record)
	if err != nil {
		return nil, errors.Wrap(err, "reading MRT header")
	}
	switch hdr.Type {
	case mrt.BGP4MP, mrt.BGP4MP_ET:
		env, err := mrt.ReadBGP4MP(body, hdr.Subtype)
		if err != nil {
			return nil, errors.Wrap(err, "reading BGP4MP envelope")
		}
		msg, err := mrt.RebuildFromBGP4MP(env, m.opts)
		if err != nil {
			return nil, errors.Wrap(err, "rebuilding BGP message")
		}
		return []*bgpmsg.Message{msg}, nil
	case mrt.TABLE_DUMP_V2:
		return m.decodeTableDumpV2(hdr.Subtype, body)
	default:
		m.log.Debug("skipping unsupported MRT record", zap.Uint16("type", hdr.Type), zap.Uint16("subtype", hdr.Subtype))
		return nil, nil
	}
}

func (m *MrtFileReader) decodeTableDumpV2(subtype uint16, body []byte) ([]*bgpmsg.Message, error) {
	switch subtype {
	case mrt.TD2_PEER_INDEX_TABLE:
		peers, err := mrt.ParsePeerIndexTable(body)
		if err != nil {
			return nil, errors.Wrap(err, "reading PEER_INDEX_TABLE")
		}
		m.peers = peers
		return nil, nil
	case mrt.TD2_RIB_IPV4_UNICAST, mrt.TD2_RIB_IPV6_UNICAST:
		if m.peers == nil {
			return nil, errors.New("RIB record seen before PEER_INDEX_TABLE")
		}
		v6 := subtype == mrt.TD2_RIB_IPV6_UNICAST
		rib, err := mrt.ParseRIBUnicast(body, v6)
		if err != nil {
			return nil, errors.Wrap(err, "reading RIB record")
		}
		msgs := make([]*bgpmsg.Message, 0, len(rib.Entries))
		for i, e := range rib.Entries {
			if int(e.PeerIndex) >= len(m.peers.Peers) {
				return nil, errors.Errorf("RIB entry %d references peer index %d, table has %d peers", i, e.PeerIndex, len(m.peers.Peers))
			}
			as4 := m.peers.Peers[e.PeerIndex].AS4
			up, err := rib.ToUpdate(i, v6, as4, m.opts)
			if err != nil {
				m.log.Warn("skipping unrebuildable RIB entry", zap.Int("entry", i), zap.Error(err))
				continue
			}
			msgs = append(msgs, &bgpmsg.Message{Header: bgpmsg.Header{Type: bgpmsg.UPDATE}, Update: up})
		}
		return msgs, nil
	default:
		m.log.Debug("skipping unsupported TABLE_DUMPv2 subtype", zap.Uint16("subtype", subtype))
		return nil, nil
	}
}

// Message returns the message produced by the most recent successful
// Scan, and any error encountered while filtering it.
func (m *MrtFileReader) Message() (*bgpmsg.Message, error) {
	return m.lastMsg, m.lastMsgErr
}

// Close closes the underlying file.
func (m *MrtFileReader) Close() error {
	return m.in.Close()
}

// Err reports any error that stopped the underlying scanner; once set,
// Scan is permanently a no-op.
func (m *MrtFileReader) Err() error {
	return m.err
}
