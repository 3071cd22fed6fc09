// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"github.com/q191201771/naza/pkg/nazabits"
)

// -----------------------------------------------------------
// <iso13818-1.pdf>
// <2.4.3.6 PES packet> <page 49/174>
// <Table E.1 - PES packet header example> <page 142/174>
// <F.0.2 PES packet> <page 144/174>
// packet_start_code_prefix  [24b] *** always 0x00, 0x00, 0x01
// stream_id                 [8b]  *
// PES_packet_length         [16b] **
// '10'                      [2b]
// PES_scrambling_control    [2b]
// PES_priority              [1b]
// data_alignment_indicator  [1b]
// copyright                 [1b]
// original_or_copy          [1b]  *
// PTS_DTS_flags             [2b]
// ESCR_flag                 [1b]
// ES_rate_flag              [1b]
// DSM_trick_mode_flag       [1b]
// additional_copy_info_flag [1b]
// PES_CRC_flag              [1b]
// PES_extension_flag        [1b]  *
// PES_header_data_length    [8b]  *
// -----------------------------------------------------------
type PesHeader struct {
	StreamId         uint8
	PacketLength     uint16
	PtsDtsFlags      uint8
	HeaderDataLength uint8
	Pts              uint64
	Dts              uint64
}

// HeaderLen is the byte offset of h264_data within the PES payload: from
// packet_start_code_prefix through the end of the optional fields covered by
// PES_header_data_length.
func (h PesHeader) HeaderLen() int {
	return 9 + int(h.HeaderDataLength)
}

// ParsePesHeader decodes the fixed PES header fields described in §4.6. b
// must start at packet_start_code_prefix; when PTS/DTS are present it must
// additionally cover bytes 9..19 for those timestamps to be read.
func ParsePesHeader(b []byte) (h PesHeader, err error) {
	if len(b) < 9 {
		err = ErrMpegts
		return
	}
	br := nazabits.NewBitReader(b)
	prefix, _ := br.ReadBits32(24)
	if prefix != 0x000001 {
		err = ErrMpegts
		return
	}
	h.StreamId, _ = br.ReadBits8(8)
	h.PacketLength, _ = br.ReadBits16(16)

	_, _ = br.ReadBits8(2) // '10'
	_, _ = br.ReadBits8(2) // PES_scrambling_control
	_, _ = br.ReadBits8(1) // PES_priority
	_, _ = br.ReadBits8(1) // data_alignment_indicator
	_, _ = br.ReadBits8(1) // copyright
	_, _ = br.ReadBits8(1) // original_or_copy

	h.PtsDtsFlags, _ = br.ReadBits8(2)
	_, _ = br.ReadBits8(1) // ESCR_flag
	_, _ = br.ReadBits8(1) // ES_rate_flag
	_, _ = br.ReadBits8(1) // DSM_trick_mode_flag
	_, _ = br.ReadBits8(1) // additional_copy_info_flag
	_, _ = br.ReadBits8(1) // PES_CRC_flag
	_, _ = br.ReadBits8(1) // PES_extension_flag

	h.HeaderDataLength, _ = br.ReadBits8(8)

	switch h.PtsDtsFlags {
	case 0b10:
		if len(b) < 14 {
			err = ErrMpegts
			return
		}
		h.Pts = readTimestamp33(b[9:14])
		h.Dts = h.Pts
	case 0b11:
		if len(b) < 19 {
			err = ErrMpegts
			return
		}
		h.Pts = readTimestamp33(b[9:14])
		h.Dts = readTimestamp33(b[14:19])
	}

	return
}

// readTimestamp33 decodes the standard 33-bit MPEG PTS/DTS interleave over 5
// bytes: bits {32..30, marker, 29..15, marker, 14..0, marker}. Marker bits
// are not validated, per §4.6.
func readTimestamp33(b []byte) (ts uint64) {
	ts |= uint64(b[0]>>1&0x07) << 30
	ts |= (uint64(b[1])<<8 | uint64(b[2])) >> 1 << 15
	ts |= (uint64(b[3])<<8 | uint64(b[4])) >> 1
	return
}
