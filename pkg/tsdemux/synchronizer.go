// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

import (
	"github.com/q191201771/naza/pkg/nazalog"

	"github.com/q191201771/tsdemux/pkg/mpegts"
)

// MaxInternalBufferSize is the hard cap on the synchronizer's accumulation
// buffer, per §5; on overflow the oldest half is dropped.
const MaxInternalBufferSize = 2 * 1024 * 1024

// MaxPacketsPerCall bounds how many 188-byte packets a single Demux call drains,
// per §5, to keep per-call latency predictable.
const MaxPacketsPerCall = 50

// syncSearchWindow is how far ahead of a lost sync byte the synchronizer
// scans for a confirmed resync point, per §4.1 ("up to 2*188 bytes").
const syncSearchWindow = 2 * mpegts.PacketSize

// synchronizer turns an append-only byte stream into aligned 188-byte TS
// packets, resyncing on sync-byte loss per §4.1.
type synchronizer struct {
	buf []byte

	syncErrors uint64
}

func (s *synchronizer) feed(b []byte) {
	s.buf = append(s.buf, b...)
	if len(s.buf) > MaxInternalBufferSize {
		nazalog.Warnf("tsdemux: internal buffer exceeded %d bytes, dropping oldest half", MaxInternalBufferSize)
		half := len(s.buf) / 2
		s.buf = append([]byte{}, s.buf[half:]...)
	}
}

// next yields at most one packet at a time; the caller loops it up to
// MaxPacketsPerCall. ok is false when there isn't a full aligned packet
// available yet (either because the buffer is too short, or because resync
// failed to confirm and the caller must wait for more bytes).
func (s *synchronizer) next() (packet []byte, ok bool) {
	for {
		if len(s.buf) < mpegts.PacketSize {
			return nil, false
		}
		if s.buf[0] == mpegts.SyncByte {
			packet = s.buf[0:mpegts.PacketSize]
			s.buf = s.buf[mpegts.PacketSize:]
			return packet, true
		}

		s.syncErrors++
		if resynced := s.resync(); !resynced {
			return nil, false
		}
	}
}

// resync scans up to syncSearchWindow bytes for a sync byte, requiring a
// second sync at i+188 to confirm true packet alignment (a lone 0x47 could
// be coincidental data). On confirmation it discards the leading garbage and
// reports true; if the whole buffer is too short to confirm anything yet it
// reports false so the caller waits for more input; if no candidate
// confirms within the window, the buffer is unrecoverable and is dropped
// entirely per §4.1.
func (s *synchronizer) resync() bool {
	limit := len(s.buf)
	if limit > syncSearchWindow {
		limit = syncSearchWindow
	}
	for i := 1; i < limit; i++ {
		if s.buf[i] != mpegts.SyncByte {
			continue
		}
		if i+mpegts.PacketSize >= len(s.buf) {
			// not enough bytes yet to confirm this candidate; wait.
			return false
		}
		if s.buf[i+mpegts.PacketSize] == mpegts.SyncByte {
			s.buf = s.buf[i:]
			return true
		}
	}
	if limit == syncSearchWindow {
		nazalog.Warnf("tsdemux: sync recovery exhausted %d-byte window, discarding buffer", syncSearchWindow)
		s.buf = s.buf[:0]
	}
	return false
}

func (s *synchronizer) reset() {
	s.buf = s.buf[:0]
	s.syncErrors = 0
}
