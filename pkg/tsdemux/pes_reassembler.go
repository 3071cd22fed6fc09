// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

import (
	"time"

	"github.com/q191201771/naza/pkg/nazalog"

	"github.com/q191201771/tsdemux/pkg/avc"
	"github.com/q191201771/tsdemux/pkg/mpegts"
)

// reassemblyBufferSoftLimit is the per-PID buffer cleanup threshold, per §5.
const reassemblyBufferSoftLimit = 32 * 1024

// Extended-frame-ready thresholds, per §4.4.
const (
	extendedFrameReadySize      = 8 * 1024
	extendedFrameAgedSize       = 2 * 1024
	extendedFrameAgedDuration   = 100 * time.Millisecond
	extendedFrameEmergencySize = 16 * 1024
)

// assembledUnit is a completed access unit handed from the reassembler to
// the controller for AVCC conversion, timestamp normalization, and emission.
type assembledUnit struct {
	annexb  []byte
	pts     uint64
	dts     uint64
	havePts bool
	haveDts bool
}

// feedPes implements the §4.4 state machine for one PID's payload. payload
// is the packet's raw TS payload bytes; pus is the packet's payload_unit_start
// bit. Zero or more assembled units are appended to out — normally zero or
// one, except the force-emit case (PUS=1 while Assembling) which can yield
// the prior buffered frame plus, later in the same call, a freshly-started one.
func (d *Demuxer) feedPes(s *stream, payload []byte, pus uint8, now time.Time) (out []assembledUnit) {
	if pus == 0 {
		if !s.reassembling {
			// Idle + PUS=0: orphaned continuation, no context. Drop.
			d.stats.OrphanedContinuations++
			return
		}
		s.buf = append(s.buf, payload...)
		if len(s.buf) > reassemblyBufferSoftLimit {
			// far beyond any legitimate access unit; the PID is stuck
			// accumulating garbage (no PUS has arrived to close it out).
			nazalog.Warnf("tsdemux: pid=%#x reassembly buffer runaway (%d bytes), dropping", s.pid, len(s.buf))
			s.resetAssembly()
			return
		}
		if d.extendedFrameReady(s, now) {
			out = append(out, d.finishAssembly(s))
		}
		return
	}

	// PUS == 1
	if s.reassembling {
		// Force-emit the buffered frame first (best effort), then fall
		// through to process this packet as a fresh Idle->... transition.
		d.stats.ForcedEmitCount++
		out = append(out, d.finishAssembly(s))
	}

	header, err := mpegts.ParsePesHeader(payload)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	headerLen := header.HeaderLen()
	if headerLen > len(payload) {
		d.stats.FormatErrors++
		return
	}
	h264Data := payload[headerLen:]

	havePts := header.PtsDtsFlags == 0b10 || header.PtsDtsFlags == 0b11
	haveDts := header.PtsDtsFlags == 0b11

	if classifySinglePacketCompleteness(h264Data) {
		out = append(out, assembledUnit{
			annexb:  append([]byte{}, h264Data...),
			pts:     header.Pts,
			dts:     header.Dts,
			havePts: havePts,
			haveDts: haveDts,
		})
		return
	}

	s.reassembling = true
	s.buf = append(s.buf[:0], h264Data...)
	s.pts = header.Pts
	s.dts = header.Dts
	s.havePts = havePts
	s.assembledAt = uint64(now.UnixNano())
	return
}

// feedAudioPes implements §6's audio contract: each PES packet is forwarded
// to the caller raw once its declared PES_packet_length's worth of ES bytes
// has arrived, with no access-unit completeness heuristic applied. A
// PES_packet_length of 0 (unbounded) completes on the next PUS=1 instead,
// the same forced-emit fallback C7 uses for video.
func (d *Demuxer) feedAudioPes(s *stream, payload []byte, pus uint8) (out []assembledUnit) {
	if pus == 0 {
		if !s.reassembling {
			d.stats.OrphanedContinuations++
			return
		}
		s.buf = append(s.buf, payload...)
		if s.esExpectedLen > 0 && len(s.buf) >= s.esExpectedLen {
			out = append(out, d.finishAssembly(s))
		}
		return
	}

	// PUS == 1
	if s.reassembling {
		d.stats.ForcedEmitCount++
		out = append(out, d.finishAssembly(s))
	}

	header, err := mpegts.ParsePesHeader(payload)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	headerLen := header.HeaderLen()
	if headerLen > len(payload) {
		d.stats.FormatErrors++
		return
	}
	esData := payload[headerLen:]

	havePts := header.PtsDtsFlags == 0b10 || header.PtsDtsFlags == 0b11
	haveDts := header.PtsDtsFlags == 0b11

	var esExpectedLen int
	if header.PacketLength > 0 {
		esExpectedLen = int(header.PacketLength) - (headerLen - 6)
	}

	if esExpectedLen > 0 && len(esData) >= esExpectedLen {
		out = append(out, assembledUnit{
			annexb:  append([]byte{}, esData[:esExpectedLen]...),
			pts:     header.Pts,
			dts:     header.Dts,
			havePts: havePts,
			haveDts: haveDts,
		})
		return
	}

	s.reassembling = true
	s.buf = append(s.buf[:0], esData...)
	s.pts = header.Pts
	s.dts = header.Dts
	s.havePts = havePts
	s.esExpectedLen = esExpectedLen
	return
}

func (d *Demuxer) finishAssembly(s *stream) assembledUnit {
	u := assembledUnit{
		annexb:  append([]byte{}, s.buf...),
		pts:     s.pts,
		dts:     s.dts,
		havePts: s.havePts,
		haveDts: s.havePts,
	}
	s.resetAssembly()
	return u
}

func (d *Demuxer) extendedFrameReady(s *stream, now time.Time) bool {
	size := len(s.buf)
	if size >= extendedFrameEmergencySize {
		return true
	}
	if size >= extendedFrameReadySize {
		return true
	}
	if size >= extendedFrameAgedSize {
		age := now.Sub(time.Unix(0, int64(s.assembledAt)))
		if age >= extendedFrameAgedDuration {
			return true
		}
	}
	return false
}

// classifySinglePacketCompleteness implements §4.4's access-unit
// completeness heuristic for the single-packet case: {AUD, SPS, PPS, IDR}
// is a complete keyframe; {AUD, >=2 NALs} is a complete non-keyframe. The
// actual is_keyframe flag on the emitted Frame Record is computed
// separately and authoritatively at emission time (§4.5), so this only
// needs to report completeness.
func classifySinglePacketCompleteness(annexb []byte) bool {
	var hasAud, hasSps, hasPps, hasIdr bool
	count := 0
	avc.IterateNaluAnnexB(annexb, func(nalu []byte) {
		count++
		switch avc.CalcNaluType(nalu) {
		case avc.NaluUnitTypeAUD:
			hasAud = true
		case avc.NaluUnitTypeSPS:
			hasSps = true
		case avc.NaluUnitTypePPS:
			hasPps = true
		case avc.NaluUnitTypeIDRSlice:
			hasIdr = true
		}
	})

	if hasAud && hasSps && hasPps && hasIdr {
		return true
	}
	return hasAud && count >= 2
}
