// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

// tsdemuxtool demuxes a TS file to a sequence of Frame Records written to an
// output file, and prints final Stats. Grounded on the teacher's one-shot
// file-to-file command style (app/modflvfile), but swaps the teacher's
// util/log for seelog as its logging backend, per SPEC_FULL.md §A.
//
// Usage:
// ./tsdemuxtool -i /tmp/in.ts -o /tmp/out.bin

import (
	"flag"
	"os"

	"github.com/cihub/seelog"

	"github.com/q191201771/tsdemux/pkg/tsdemux"
)

func main() {
	inFileName, outFileName := parseFlag()
	setupSeelog()
	defer seelog.Flush()

	content, err := os.ReadFile(inFileName)
	panicIfErr(err)
	seelog.Infof("read input file succ. size=%d", len(content))

	outFile, err := os.Create(outFileName)
	panicIfErr(err)
	defer outFile.Close()

	sink := &fileSink{f: outFile}
	d := tsdemux.NewDemuxer(tsdemux.WithSink(sink))

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

	stats := d.Stats()
	seelog.Infof("done. total_packets=%d sync_errors=%d continuity_errors=%d "+
		"transport_errors=%d format_errors=%d rejected_sps=%d orphaned_continuations=%d "+
		"forced_emits=%d frames_written=%d",
		stats.TotalPackets, stats.SyncErrors, stats.ContinuityErrors,
		stats.TransportErrors, stats.FormatErrors, stats.RejectedSpsCount,
		stats.OrphanedContinuations, stats.ForcedEmitCount, sink.frameCount)
	if stats.CachedSpsValid {
		seelog.Infof("sps: %dx%d @ %.3ffps", stats.CachedSpsWidth, stats.CachedSpsHeight, stats.CachedSpsFps)
	}
}

// fileSink writes Frame Records straight to disk; its FreeSpace is
// unbounded since an *os.File has no practical ring-buffer limit for an
// offline tool, so the demuxer's backpressure wait in emit() never blocks.
type fileSink struct {
	f          *os.File
	frameCount int
}

func (s *fileSink) FreeSpace() int { return 1 << 30 }

func (s *fileSink) Write(b []byte) error {
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.frameCount++
	return nil
}

func panicIfErr(err error) {
	if err != nil {
		seelog.Criticalf("fatal: %+v", err)
		panic(err)
	}
}

func parseFlag() (string, string) {
	i := flag.String("i", "", "specify input ts file")
	o := flag.String("o", "", "specify output frame-record file")
	flag.Parse()
	if *i == "" || *o == "" {
		flag.Usage()
		os.Exit(1)
	}
	return *i, *o
}

func setupSeelog() {
	const config = `
<seelog minlevel="debug">
	<outputs formatid="main">
		<console/>
	</outputs>
	<formats>
		<format id="main" format="%Date/%Time [%Level] %Msg%n"/>
	</formats>
</seelog>`
	logger, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		panic(err)
	}
	seelog.ReplaceLogger(logger)
}
