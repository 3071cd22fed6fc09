// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Sink is the external ring buffer a demuxed frame is handed to, per §6.
// FreeSpace reports how many bytes are currently writable; Write blocks
// until there is room (the sink is the backpressure boundary — §5, §7).
type Sink interface {
	FreeSpace() int
	Write(b []byte) error
}

// frameMagic tags every record written to a Sink.
var frameMagic = [4]byte{'T', 'S', 'D', 'X'}

// FrameInfo is the fixed-size record header written ahead of each AVCC
// access unit, per §6. Layout, host-endian:
//
//	magic        [4]byte
//	sequence     uint32
//	is_keyframe  byte + 3 bytes padding
//	cts          float64 (seconds)
//	dts          float64 (seconds)
//	duration     float64 (seconds)
//	fps          float64
//	width        uint32
//	height       uint32
//	time_scale   uint32 (always 90000)
//	size         uint32 (header + payload, total bytes written)
const FrameInfoSize = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 4 + 4 + 4 + 4

type FrameInfo struct {
	Sequence   uint32
	IsKeyframe bool
	Cts        float64
	Dts        float64
	Duration   float64
	Fps        float64
	Width      uint32
	Height     uint32
	TimeScale  uint32
}

// nativeEndian is resolved once at init, per §6's "Endianness is host."
var nativeEndian binary.ByteOrder

func init() {
	var probe [2]byte
	*(*uint16)(unsafe.Pointer(&probe[0])) = 0xABCD
	if probe[0] == 0xCD {
		nativeEndian = binary.LittleEndian
	} else {
		nativeEndian = binary.BigEndian
	}
}

// Encode writes FrameInfo || payload into out, growing it as needed, and
// returns the result. size is set to FrameInfoSize+len(payload).
func (fi FrameInfo) Encode(payload []byte, out []byte) []byte {
	total := FrameInfoSize + len(payload)
	if cap(out) < total {
		out = make([]byte, total)
	} else {
		out = out[:total]
	}

	copy(out[0:4], frameMagic[:])
	nativeEndian.PutUint32(out[4:8], fi.Sequence)
	if fi.IsKeyframe {
		out[8] = 1
	} else {
		out[8] = 0
	}
	out[9], out[10], out[11] = 0, 0, 0

	nativeEndian.PutUint64(out[12:20], math.Float64bits(fi.Cts))
	nativeEndian.PutUint64(out[20:28], math.Float64bits(fi.Dts))
	nativeEndian.PutUint64(out[28:36], math.Float64bits(fi.Duration))
	nativeEndian.PutUint64(out[36:44], math.Float64bits(fi.Fps))
	nativeEndian.PutUint32(out[44:48], fi.Width)
	nativeEndian.PutUint32(out[48:52], fi.Height)
	nativeEndian.PutUint32(out[52:56], fi.TimeScale)
	nativeEndian.PutUint32(out[56:60], uint32(total))

	copy(out[FrameInfoSize:], payload)
	return out
}
