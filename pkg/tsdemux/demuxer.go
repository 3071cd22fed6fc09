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

// continuityGapResetThreshold is the §4.9/§4.8 "gap > 5" discontinuity
// trigger for per-PID continuity-counter tracking.
const continuityGapResetThreshold = 5

// VideoCallback is the optional per-access-unit observer described in §6.
type VideoCallback func(pid uint16, annexb []byte, header mpegts.PesHeader)

// AudioCallback is the optional raw-forwarding observer described in §6;
// audio reassembly is deliberately out of scope (§6), so pes is the PES
// packet's ES payload (PES header stripped), its bytes unmodified and
// joined across TS packets. header carries only Pts and Dts.
type AudioCallback func(pid uint16, pes []byte, header mpegts.PesHeader)

// Demuxer is the controller described in §4.9 (C9): it owns the program
// table, continuity tracking, per-PID reassembly state, the SPS cache, and
// the timestamp normalizer, and is the single point of mutation for all of
// it (§5 — callers must serialize access to one instance).
type Demuxer struct {
	sync synchronizer

	programsByNumber map[uint16]*program
	pmtPidToProgram  map[uint16]*program
	pidToProgram     map[uint16]*program

	continuityExpected map[uint16]uint8
	continuitySeen      map[uint16]bool

	cachedSps    avc.Context
	cachedSpsOk  bool
	cachedSpsRaw []byte

	normalizer *timestampNormalizer

	sink          Sink
	videoCallback VideoCallback
	audioCallback AudioCallback
	clock         Clock

	sequence uint32
	stats    Stats
}

// Option configures a Demuxer at construction time: the sink, the video and
// audio callbacks, and the Clock. The access-unit completeness thresholds
// (pes_reassembler.go) and the SPS fps sanity window (avc.resolveTiming) are
// fixed constants; no Option changes them.
type Option func(*Demuxer)

func WithSink(sink Sink) Option {
	return func(d *Demuxer) { d.sink = sink }
}

func WithVideoCallback(cb VideoCallback) Option {
	return func(d *Demuxer) { d.videoCallback = cb }
}

func WithAudioCallback(cb AudioCallback) Option {
	return func(d *Demuxer) { d.audioCallback = cb }
}

func WithClock(clock Clock) Option {
	return func(d *Demuxer) { d.clock = clock }
}

func NewDemuxer(opts ...Option) *Demuxer {
	d := &Demuxer{
		programsByNumber:   make(map[uint16]*program),
		pmtPidToProgram:    make(map[uint16]*program),
		pidToProgram:       make(map[uint16]*program),
		continuityExpected: make(map[uint16]uint8),
		continuitySeen:     make(map[uint16]bool),
		clock:              DefaultClock,
		stats:              Stats{LastPcrByPid: make(map[uint16]uint64)},
	}
	for _, o := range opts {
		o(d)
	}
	d.normalizer = newTimestampNormalizer(d.clock)
	return d
}

// Demux implements §6's `demux(bytes)`: append raw bytes and drain up to
// MaxPacketsPerCall aligned TS packets. It returns whether at least one
// packet was processed.
func (d *Demuxer) Demux(b []byte) bool {
	d.sync.feed(b)
	now := d.clock()

	processed := false
	for i := 0; i < MaxPacketsPerCall; i++ {
		packet, ok := d.sync.next()
		if !ok {
			break
		}
		processed = true
		d.stats.TotalPackets++
		d.handlePacket(packet, now)
	}
	d.stats.SyncErrors = d.sync.syncErrors
	return processed
}

func (d *Demuxer) handlePacket(packet []byte, now time.Time) {
	header, err := mpegts.ParseTsPacketHeader(packet)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	if header.Pid == mpegts.PidNull {
		return // null packets are ignored entirely, including for continuity (§8)
	}
	if header.TransportErr == 1 {
		d.stats.TransportErrors++
		return
	}

	d.trackContinuity(header.Pid, header.Cc)

	payload := packet[4:]
	if header.HasAdaptation() {
		af, err := mpegts.ParseTsPacketAdaptation(payload)
		if err != nil {
			d.stats.FormatErrors++
			return
		}
		if af.Discontinuity == 1 {
			d.normalizer.reset()
		}
		if af.PcrFlag == 1 {
			d.stats.LastPcrByPid[header.Pid] = af.PcrBase*300 + uint64(af.PcrExt)
		}
		adv := int(af.Length) + 1
		if adv > len(payload) {
			d.stats.FormatErrors++
			return
		}
		payload = payload[adv:]
	}
	if !header.HasPayload() {
		return
	}

	switch {
	case header.Pid == mpegts.PidPat:
		d.handlePat(payload, header.PayloadUnitStart)
	case d.pmtPidToProgram[header.Pid] != nil:
		d.handlePmt(header.Pid, payload, header.PayloadUnitStart)
	default:
		if prog, ok := d.pidToProgram[header.Pid]; ok {
			d.handlePes(prog, header.Pid, payload, header.PayloadUnitStart, now)
			return
		}
		if header.PayloadUnitStart == 1 {
			d.tryAutoDetect(header.Pid, payload, now)
		}
	}
}

// trackContinuity implements §4.9: adopt on first sight; tolerate gaps <=5;
// signal discontinuity (reset the normalizer) on a larger gap, recording
// which PID triggered it per SPEC_FULL.md §C.1.
func (d *Demuxer) trackContinuity(pid uint16, cc uint8) {
	if !d.continuitySeen[pid] {
		d.continuitySeen[pid] = true
		d.continuityExpected[pid] = (cc + 1) & 0x0F
		return
	}
	expected := d.continuityExpected[pid]
	gap := int(cc) - int(expected)
	if gap < 0 {
		gap += 16
	}
	d.continuityExpected[pid] = (cc + 1) & 0x0F
	if gap == 0 {
		return
	}
	d.stats.ContinuityErrors++
	d.stats.LastContinuityErrorPid = pid
	if gap > continuityGapResetThreshold {
		d.normalizer.reset()
	}
}

func (d *Demuxer) handlePat(payload []byte, pus uint8) {
	if pus != 1 {
		return
	}
	section, err := mpegts.SkipPointerField(payload)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	pat, err := mpegts.ParsePat(section)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	if pat.CurrentNextIndicator != 1 {
		return
	}
	for _, pe := range pat.Programs {
		if pe.ProgramNumber == 0 {
			continue // network PID entry, not a program
		}
		if _, exists := d.programsByNumber[pe.ProgramNumber]; exists {
			continue
		}
		p := newProgram(pe.ProgramNumber, pe.PmtPid)
		d.programsByNumber[pe.ProgramNumber] = p
		d.pmtPidToProgram[pe.PmtPid] = p
	}
}

func (d *Demuxer) handlePmt(pid uint16, payload []byte, pus uint8) {
	if pus != 1 {
		return
	}
	prog := d.pmtPidToProgram[pid]
	if prog == nil {
		return
	}
	section, err := mpegts.SkipPointerField(payload)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	pmt, err := mpegts.ParsePmt(section)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	if pmt.CurrentNextIndicator != 1 {
		return
	}
	prog.pcrPid = pmt.PcrPid
	for _, pe := range pmt.ProgramElements {
		if !mpegts.IsVideoStreamType(pe.StreamType) && !mpegts.IsAudioStreamType(pe.StreamType) {
			nazalog.Warnf("tsdemux: pmt pid=%#x unrecognized stream_type=%#x for elementary pid=%#x", pid, pe.StreamType, pe.Pid)
		}
		if _, exists := prog.streams[pe.Pid]; exists {
			continue
		}
		s := newStream(pe.Pid, pe.StreamType)
		prog.streams[pe.Pid] = s
		d.pidToProgram[pe.Pid] = prog
	}
}

func (d *Demuxer) handlePes(prog *program, pid uint16, payload []byte, pus uint8, now time.Time) {
	s := prog.streams[pid]
	if s == nil {
		return
	}
	var units []assembledUnit
	if s.isAudio() {
		// §6: audio reassembly is deliberately out of scope — forward each
		// PES packet raw, never through C7's H.264 completeness heuristic.
		units = d.feedAudioPes(s, payload, pus)
	} else {
		units = d.feedPes(s, payload, pus, now)
	}
	for _, u := range units {
		d.emit(pid, s, u)
	}
}

// tryAutoDetect implements §4.9's fallback: a PES arriving on an unrouted
// PID, beginning with the PES start prefix and carrying a stream_id in the
// video/audio ranges, synthesizes a program so playback can start before a
// PMT has arrived. Supplemented per SPEC_FULL.md §C.3: a 0xBD (private
// stream 1) stream_id is only accepted as video if its payload actually
// starts with an Annex-B NAL after the PES header, disambiguating a range
// that otherwise covers non-video private streams too.
func (d *Demuxer) tryAutoDetect(pid uint16, payload []byte, now time.Time) {
	if len(payload) < 9 || payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
		return
	}
	streamId := payload[3]

	isVideoRange := streamId >= 0xE0 && streamId <= 0xEF
	isAudioRange := streamId >= 0xC0 && streamId <= 0xDF
	isPrivate := streamId == 0xBD

	var streamType uint8
	switch {
	case isVideoRange:
		streamType = mpegts.StreamTypeH264
	case isAudioRange:
		streamType = mpegts.StreamTypeAac
	case isPrivate:
		header, err := mpegts.ParsePesHeader(payload)
		if err != nil {
			return
		}
		headerLen := header.HeaderLen()
		if headerLen >= len(payload) {
			return
		}
		if !looksLikeAnnexB(payload[headerLen:]) {
			return
		}
		streamType = mpegts.StreamTypeH264
	default:
		return
	}

	prog := newProgram(1, 0)
	prog.synthetic = true
	d.programsByNumber[1] = prog
	s := newStream(pid, streamType)
	prog.streams[pid] = s
	d.pidToProgram[pid] = prog

	d.handlePes(prog, pid, payload, 1, now)
}

func looksLikeAnnexB(b []byte) bool {
	return len(b) >= 4 && b[0] == 0 && b[1] == 0 && (b[2] == 1 || (b[2] == 0 && len(b) >= 5 && b[3] == 1))
}

// emit implements the back half of §4.9: AVCC conversion (§4.5), SPS cache
// update (§4.7), timestamp normalization (§4.8), Frame Record construction,
// and handoff to the sink plus optional callbacks.
func (d *Demuxer) emit(pid uint16, s *stream, u assembledUnit) {
	if s.isAudio() {
		if d.audioCallback != nil {
			d.audioCallback(pid, u.annexb, mpegts.PesHeader{Pts: u.pts, Dts: u.dts})
		}
		return
	}

	d.updateSpsCache(u.annexb)

	avcc, err := avc.AnnexBToAVCC(u.annexb)
	if err != nil {
		d.stats.FormatErrors++
		return
	}
	isKeyframe := avc.IsKeyframeAnnexB(u.annexb)

	if d.videoCallback != nil {
		d.videoCallback(pid, u.annexb, mpegts.PesHeader{Pts: u.pts, Dts: u.dts})
	}

	if d.cachedSpsOk {
		d.normalizer.setFrameDuration(d.cachedSps.FrameDurationSec)
	}
	cts, dts := d.normalizer.normalize(u.pts, u.dts, u.havePts, u.haveDts)

	d.sequence++
	fi := FrameInfo{
		Sequence:   d.sequence,
		IsKeyframe: isKeyframe,
		Cts:        cts,
		Dts:        dts,
		TimeScale:  TimeScale,
	}
	if d.cachedSpsOk {
		fi.Width = d.cachedSps.Width
		fi.Height = d.cachedSps.Height
		fi.Fps = d.cachedSps.Fps
		fi.Duration = d.cachedSps.FrameDurationSec
	} else {
		fi.Fps = 30.0
		fi.Duration = 1.0 / 30.0
	}

	if d.sink == nil {
		return
	}
	record := fi.Encode(avcc, nil)
	for d.sink.FreeSpace() < len(record) {
		// the sink is the backpressure boundary (§5, §7): busy-wait rather
		// than drop an emitted frame.
	}
	if err := d.sink.Write(record); err != nil {
		nazalog.Errorf("tsdemux: sink write failed. err=%+v", err)
	}
}

// updateSpsCache implements §3's Cached SPS invariant: update only when an
// incoming type-7 NAL differs byte-for-byte from the cached copy; a failed
// parse rejects that SPS and keeps the prior cache (§4.9).
func (d *Demuxer) updateSpsCache(annexb []byte) {
	avc.IterateNaluAnnexB(annexb, func(nalu []byte) {
		if avc.CalcNaluType(nalu) != avc.NaluUnitTypeSPS {
			return
		}
		if d.cachedSpsOk && bytesEqual(d.cachedSpsRaw, nalu) {
			return
		}
		var ctx avc.Context
		if err := avc.ParseSps(nalu, &ctx); err != nil {
			d.stats.RejectedSpsCount++
			nazalog.Warnf("tsdemux: rejected sps. err=%+v", err)
			return
		}
		d.cachedSps = ctx
		d.cachedSpsOk = true
		d.cachedSpsRaw = append([]byte{}, nalu...)
		d.stats.CachedSpsValid = true
		d.stats.CachedSpsWidth = ctx.Width
		d.stats.CachedSpsHeight = ctx.Height
		d.stats.CachedSpsFps = ctx.Fps
	})
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Reset implements §6's `reset()`: clears all state and returns the demuxer
// to initial configuration. A stream switch is expressed this way (§5);
// there is no in-band cancellation.
func (d *Demuxer) Reset() {
	d.sync.reset()
	d.programsByNumber = make(map[uint16]*program)
	d.pmtPidToProgram = make(map[uint16]*program)
	d.pidToProgram = make(map[uint16]*program)
	d.continuityExpected = make(map[uint16]uint8)
	d.continuitySeen = make(map[uint16]bool)
	d.cachedSpsOk = false
	d.cachedSpsRaw = nil
	d.normalizer.reset()
	d.sequence = 0
	d.stats = Stats{LastPcrByPid: make(map[uint16]uint64)}
}

// Stats implements §6's `stats()`.
func (d *Demuxer) Stats() Stats {
	return d.stats
}
