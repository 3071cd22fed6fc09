// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"errors"

	"github.com/q191201771/naza/pkg/nazabits"
)

var ErrMpegts = errors.New("tsdemux.mpegts: fxxk")

const (
	PacketSize = 188
	SyncByte   = 0x47

	// PidNull marks a null (stuffing) packet; it carries no payload and is
	// always ignored.
	PidNull uint16 = 0x1FFF
	PidPat  uint16 = 0x0000
)

// ------------------------------------------------
// <iso13818-1.pdf> <2.4.3.2> <page 36/174>
// sync_byte                    [8b]  * always 0x47
// transport_error_indicator    [1b]
// payload_unit_start_indicator [1b]
// transport_priority           [1b]
// PID                          [13b] **
// transport_scrambling_control [2b]
// adaptation_field_control     [2b]
// continuity_counter           [4b]  *
// ------------------------------------------------
type TsPacketHeader struct {
	Sync             uint8
	TransportErr     uint8
	PayloadUnitStart uint8
	Prio             uint8
	Pid              uint16
	Scra             uint8
	Adaptation       uint8
	Cc               uint8
}

func (h TsPacketHeader) HasAdaptation() bool {
	return h.Adaptation == 0b10 || h.Adaptation == 0b11
}

func (h TsPacketHeader) HasPayload() bool {
	return h.Adaptation == 0b01 || h.Adaptation == 0b11
}

// ----------------------------------------------------------
// <iso13818-1.pdf> <Table 2-6> <page 40/174>
// adaptation_field_length              [8b] * does not include itself
// discontinuity_indicator              [1b]
// random_access_indicator              [1b]
// elementary_stream_priority_indicator [1b]
// PCR_flag                             [1b]
// OPCR_flag                            [1b]
// splicing_point_flag                  [1b]
// transport_private_data_flag          [1b]
// adaptation_field_extension_flag      [1b] *
// -----if PCR_flag == 1-----
// program_clock_reference_base         [33b]
// reserved                             [6b]
// program_clock_reference_extension    [9b] ******
// ----------------------------------------------------------
type TsPacketAdaptation struct {
	Length          uint8
	Discontinuity   uint8
	RandomAccess    uint8
	PcrFlag         uint8
	PcrBase         uint64
	PcrExt          uint16
}

// ParseTsPacketHeader decodes the fixed 4-byte TS header.
func ParseTsPacketHeader(b []byte) (h TsPacketHeader, err error) {
	if len(b) < 4 {
		err = ErrMpegts
		return
	}
	br := nazabits.NewBitReader(b)
	h.Sync, _ = br.ReadBits8(8)
	h.TransportErr, _ = br.ReadBits8(1)
	h.PayloadUnitStart, _ = br.ReadBits8(1)
	h.Prio, _ = br.ReadBits8(1)
	h.Pid, _ = br.ReadBits16(13)
	h.Scra, _ = br.ReadBits8(2)
	h.Adaptation, _ = br.ReadBits8(2)
	h.Cc, _ = br.ReadBits8(4)
	if h.Sync != SyncByte {
		err = ErrMpegts
	}
	return
}

// ParseTsPacketAdaptation decodes the adaptation field that follows the
// 4-byte header when TsPacketHeader.HasAdaptation() is true. An
// adaptation_field_length running past the end of b is clamped to the bytes
// remaining in b.
func ParseTsPacketAdaptation(b []byte) (f TsPacketAdaptation, err error) {
	if len(b) < 1 {
		err = ErrMpegts
		return
	}
	br := nazabits.NewBitReader(b)
	f.Length, _ = br.ReadBits8(8)
	if int(f.Length)+1 > len(b) {
		f.Length = uint8(len(b) - 1)
	}
	if f.Length == 0 {
		return
	}
	f.Discontinuity, _ = br.ReadBits8(1)
	f.RandomAccess, _ = br.ReadBits8(1)
	_, _ = br.ReadBits8(1) // elementary_stream_priority_indicator
	f.PcrFlag, _ = br.ReadBits8(1)
	_, _ = br.ReadBits8(1) // OPCR_flag
	_, _ = br.ReadBits8(1) // splicing_point_flag
	_, _ = br.ReadBits8(1) // transport_private_data_flag
	_, _ = br.ReadBits8(1) // adaptation_field_extension_flag

	if f.PcrFlag == 1 && f.Length >= 7 {
		pcrBaseHigh, _ := br.ReadBits8(1)
		pcrBaseLow, _ := br.ReadBits32(32)
		f.PcrBase = uint64(pcrBaseHigh)<<32 | uint64(pcrBaseLow)
		_, _ = br.ReadBits8(6)
		f.PcrExt, _ = br.ReadBits16(9)
	}
	return
}
