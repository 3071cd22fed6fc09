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

const (
	TableIdPat uint8 = 0x00
	TableIdPmt uint8 = 0x02
)

// StreamType enumerates the PMT stream_type byte. Values outside this set are
// accepted by ParsePmt; IsVideoStreamType and IsAudioStreamType report false
// for them (and for StreamTypePrivatePes).
const (
	StreamTypeMpeg1Video uint8 = 0x01
	StreamTypeMpeg2Video uint8 = 0x02
	StreamTypeMpeg1Audio uint8 = 0x03
	StreamTypeMpeg2Audio uint8 = 0x04
	StreamTypePrivatePes uint8 = 0x06
	StreamTypeAac        uint8 = 0x0F
	StreamTypeAacLatm     uint8 = 0x11
	StreamTypeH264       uint8 = 0x1B
	StreamTypeHevc       uint8 = 0x24
	StreamTypeVc1        uint8 = 0xEA
	StreamTypeDirac      uint8 = 0xD1
)

func IsVideoStreamType(st uint8) bool {
	switch st {
	case StreamTypeMpeg1Video, StreamTypeMpeg2Video, StreamTypeH264, StreamTypeHevc, StreamTypeVc1, StreamTypeDirac:
		return true
	}
	return false
}

func IsAudioStreamType(st uint8) bool {
	switch st {
	case StreamTypeMpeg1Audio, StreamTypeMpeg2Audio, StreamTypeAac, StreamTypeAacLatm:
		return true
	}
	return false
}

// SkipPointerField strips the mandatory pointer_field that prefixes the first
// packet of a new PSI section: 1 byte giving a stuffing-byte count, followed
// by that many stuffing bytes, then the section itself starting at table_id.
func SkipPointerField(b []byte) ([]byte, error) {
	if len(b) < 1 {
		return nil, ErrMpegts
	}
	pointerField := int(b[0])
	if 1+pointerField > len(b) {
		return nil, ErrMpegts
	}
	return b[1+pointerField:], nil
}

// sectionHeader holds the fields common to PAT and PMT, already positioned
// past table_id/section_syntax_indicator/section_length.
type sectionHeader struct {
	tableId              uint8
	sectionLength        uint16
	currentNextIndicator uint8
}

// parseSectionHeader reads table_id(8), section_syntax_indicator(1), '0'(1),
// reserved(2) and section_length(12); it checks table_id against wantTableId
// and that section_length fits within b. The next three bytes up to
// current_next_indicator share layout for PAT and PMT (table_id_extension:16,
// reserved:2, version_number:5, current_next_indicator:1); callers read that
// part themselves.
func parseSectionHeader(br *nazabits.BitReader, b []byte, wantTableId uint8) (h sectionHeader, err error) {
	h.tableId, _ = br.ReadBits8(8)
	if h.tableId != wantTableId {
		err = ErrMpegts
		return
	}
	_, _ = br.ReadBits8(1) // section_syntax_indicator
	_, _ = br.ReadBits8(1) // '0'
	_, _ = br.ReadBits8(2) // reserved
	h.sectionLength, _ = br.ReadBits16(12)
	// section_length counts bytes after itself up to and including CRC32;
	// 3 header bytes already consumed (table_id..section_length).
	if int(h.sectionLength)+3 > len(b) {
		err = ErrMpegts
	}
	return
}
