// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

// tscmp demuxes a TS file twice — once with this module's Demuxer, once with
// go-astits — and reports where their video PTS sequences disagree; the
// number of distinct video PIDs astits saw is printed, not compared. It
// exists to cross-check our own implementation against an independent
// third-party one, not to replace either.
//
// Grounded on the teacher's app/tscmp/tscmp.go, which diffed two TS files
// packet-by-packet via pkg/hls; here the comparison moves up a level, from
// raw packets to decoded PTS sequences, since the two demuxers being
// compared no longer share a packet-splitting implementation.

import (
	"flag"
	"os"

	"github.com/asticode/go-astits"
	"github.com/q191201771/naza/pkg/nazalog"

	"github.com/q191201771/tsdemux/pkg/mpegts"
	"github.com/q191201771/tsdemux/pkg/tsdemux"
)

func main() {
	filename := flag.String("i", "", "input ts file")
	flag.Parse()
	if *filename == "" {
		nazalog.Fatal("usage: tscmp -i <file.ts>")
	}

	content, err := os.ReadFile(*filename)
	nazalog.Assert(nil, err)

	oursPts := runOurs(content)
	theirsPts, theirsPidCount := runAstits(*filename)

	nazalog.Infof("ours:   video pts samples=%d", len(oursPts))
	nazalog.Infof("astits: video pts samples=%d, distinct pids=%d", len(theirsPts), theirsPidCount)

	n := len(oursPts)
	if len(theirsPts) < n {
		n = len(theirsPts)
	}
	mismatch := 0
	for i := 0; i < n; i++ {
		if oursPts[i] != theirsPts[i] {
			mismatch++
			nazalog.Warnf("pts mismatch at sample %d: ours=%d astits=%d", i, oursPts[i], theirsPts[i])
		}
	}
	if len(oursPts) != len(theirsPts) {
		nazalog.Warnf("sample count differs: ours=%d astits=%d", len(oursPts), len(theirsPts))
	}
	if mismatch == 0 {
		nazalog.Infof("pts sequences agree over %d common samples", n)
	} else {
		nazalog.Errorf("%d pts mismatches over %d common samples", mismatch, n)
	}
}

func runOurs(content []byte) (ptsSamples []uint64) {
	d := tsdemux.NewDemuxer(
		tsdemux.WithVideoCallback(func(pid uint16, annexb []byte, header mpegts.PesHeader) {
			ptsSamples = append(ptsSamples, header.Pts)
		}),
	)
	// Demux drains at most MaxPacketsPerCall packets per call; feed the
	// whole file once, then keep draining the synchronizer's retained
	// buffer until it reports nothing left to process.
	first := true
	for {
		var b []byte
		if first {
			b = content
			first = false
		}
		if !d.Demux(b) {
			break
		}
	}
	return ptsSamples
}

func runAstits(filename string) (ptsSamples []uint64, pidCount int) {
	f, err := os.Open(filename)
	nazalog.Assert(nil, err)
	defer f.Close()

	pidSet := make(map[uint16]bool)
	dem := astits.NewDemuxer(nil, f)
	for {
		data, err := dem.NextData()
		if err != nil {
			break
		}
		if data.PES == nil || data.PES.Header == nil || data.PES.Header.OptionalHeader == nil {
			continue
		}
		if id := data.PES.Header.StreamID; id < 0xE0 || id > 0xEF {
			continue // video stream_ids only, matching runOurs's video callback
		}
		pts := data.PES.Header.OptionalHeader.PTS
		if pts == nil {
			continue
		}
		pidSet[uint16(data.PID)] = true
		ptsSamples = append(ptsSamples, uint64(pts.Base))
	}
	return ptsSamples, len(pidSet)
}
