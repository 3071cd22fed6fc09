// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

import "github.com/q191201771/tsdemux/pkg/mpegts"

// program is created on PAT parse, per §3; it owns its Streams by value —
// collapsing the source's Program<->Stream cyclic ownership (§9) into a
// single direction: lookups always go through the owning program, never a
// stream back-reference.
type program struct {
	number    uint16
	pmtPid    uint16
	pcrPid    uint16
	streams   map[uint16]*stream
	synthetic bool // created by auto-detect (§4.9), not by a real PMT
}

func newProgram(number, pmtPid uint16) *program {
	return &program{
		number:  number,
		pmtPid:  pmtPid,
		streams: make(map[uint16]*stream),
	}
}

// stream is the per-PID reassembly state described in §3: a buffer, an
// in-progress flag, and the captured timestamp for the access unit in
// progress. Its buffer is owned exclusively by the reassembler that mutates
// it. The keyframe flag named in §3 is computed fresh at emission time
// instead of tracked incrementally here (see Demuxer.emit).
type stream struct {
	pid        uint16
	streamType uint8

	reassembling bool
	buf          []byte
	assembledAt  uint64 // Clock reading (UnixNano) when assembly started, used for age-based flush
	pts          uint64
	dts          uint64
	havePts      bool

	// esExpectedLen is the declared PES_packet_length's ES payload portion
	// for an in-progress audio PES (§6); 0 means unbounded/unknown, in
	// which case the unit completes on the next PUS=1 instead.
	esExpectedLen int
}

func newStream(pid uint16, streamType uint8) *stream {
	return &stream{pid: pid, streamType: streamType}
}

func (s *stream) isAudio() bool {
	return mpegts.IsAudioStreamType(s.streamType)
}

func (s *stream) resetAssembly() {
	s.reassembling = false
	s.buf = s.buf[:0]
	s.havePts = false
	s.esExpectedLen = 0
}
