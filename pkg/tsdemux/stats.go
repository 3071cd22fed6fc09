// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

// Stats is the snapshot returned by Demuxer.Stats, per §6/§7. Beyond the
// three counters §6 names explicitly (total_packets, sync_errors,
// continuity_errors) plus transport_errors and cached-SPS status, it
// carries the supplemented per-PID breakdown described in SPEC_FULL.md §C.
type Stats struct {
	TotalPackets      uint64
	SyncErrors        uint64
	ContinuityErrors  uint64
	TransportErrors   uint64
	FormatErrors      uint64

	RejectedSpsCount      uint64
	OrphanedContinuations uint64
	ForcedEmitCount       uint64

	LastContinuityErrorPid uint16

	CachedSpsValid  bool
	CachedSpsWidth  uint32
	CachedSpsHeight uint32
	CachedSpsFps    float64

	// LastPcrByPid holds the most recently observed adaptation-field PCR
	// (27MHz-scaled, base*300+extension) per PID, read-only, for a caller
	// correlating wall-clock drift against PTS — supplemented per
	// SPEC_FULL.md §C.2; not consumed by the normalizer itself.
	LastPcrByPid map[uint16]uint64
}
