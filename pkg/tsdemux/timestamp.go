// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

import "time"

// TimeScale is the MPEG PTS/DTS clock rate, 90 kHz, per §3.
const TimeScale = 90000

// wrapThreshold and wrapAmount implement §4.8's 33-bit wrap detection: a PTS
// or DTS that appears to have gone backwards by more than 2^31 is assumed to
// have wrapped past 2^33, not to have regressed.
const (
	wrapThreshold = uint64(1) << 31
	wrapAmount    = uint64(1) << 33
)

// Clock supplies wall-clock time to the normalizer's base_time bookkeeping.
// The wall-clock time source is an external collaborator per §1; Clock lets
// tests substitute a deterministic one. DefaultClock wraps time.Now.
type Clock func() time.Time

func DefaultClock() time.Time { return time.Now() }

// timestampNormalizer implements §4.8: baseline capture, 33-bit wrap
// handling, and discontinuity reset.
type timestampNormalizer struct {
	clock Clock

	initialized bool
	basePts     uint64
	baseDts     uint64
	baseTime    time.Time

	lastPts uint64
	lastDts uint64

	ptsWrapOffset uint64
	dtsWrapOffset uint64

	frameCounter  uint64
	frameDuration float64 // seconds; set by the caller from the active SPS fps
}

func newTimestampNormalizer(clock Clock) *timestampNormalizer {
	if clock == nil {
		clock = DefaultClock
	}
	return &timestampNormalizer{clock: clock, frameDuration: 1.0 / 30.0}
}

func (n *timestampNormalizer) reset() {
	n.initialized = false
	n.basePts = 0
	n.baseDts = 0
	n.lastPts = 0
	n.lastDts = 0
	n.ptsWrapOffset = 0
	n.dtsWrapOffset = 0
	n.frameCounter = 0
}

// setFrameDuration is called whenever the active SPS resolves a new fps, so
// the frame-counter fallback in normalize tracks the stream's real rate
// rather than an assumed default.
func (n *timestampNormalizer) setFrameDuration(seconds float64) {
	if seconds > 0 {
		n.frameDuration = seconds
	}
}

// normalize implements §4.8's core algorithm. rawPts/rawDts are the 33-bit
// values straight off the wire; havePts/haveDts report which were actually
// present in the PES header (§4.6's pts_dts_flags). It returns the
// normalized cts/dts in seconds and advances frame_counter.
func (n *timestampNormalizer) normalize(rawPts, rawDts uint64, havePts, haveDts bool) (cts, dts float64) {
	defer func() { n.frameCounter++ }()

	if !havePts {
		cts = float64(n.frameCounter) * n.frameDuration
		dts = cts
		return
	}
	if !haveDts {
		rawDts = rawPts
	}

	if !n.initialized {
		n.basePts = rawPts
		n.baseDts = rawDts
		n.baseTime = n.clock()
		n.lastPts = rawPts
		n.lastDts = rawDts
		n.initialized = true
		return 0, 0
	}

	adjustedPts := n.applyWrap(rawPts, &n.lastPts, &n.ptsWrapOffset)
	adjustedDts := n.applyWrap(rawDts, &n.lastDts, &n.dtsWrapOffset)

	cts = float64(int64(adjustedPts)-int64(n.basePts)) / float64(TimeScale)
	dts = float64(int64(adjustedDts)-int64(n.baseDts)) / float64(TimeScale)

	if rawPts == 0 {
		cts = float64(n.frameCounter) * n.frameDuration
	}
	if cts < 0 || dts < 0 {
		cts = float64(n.frameCounter) * n.frameDuration
		dts = cts
	}

	return
}

// applyWrap detects a 33-bit wrap on one timestamp channel (PTS or DTS
// independently, per §4.8) and returns the unwrapped value.
func (n *timestampNormalizer) applyWrap(raw uint64, last *uint64, wrapOffset *uint64) uint64 {
	if raw < *last && (*last-raw) > wrapThreshold {
		*wrapOffset += wrapAmount
	}
	*last = raw
	return raw + *wrapOffset
}
