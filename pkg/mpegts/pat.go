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

// ---------------------------------------------------------------------------------------------------
// Program association section
// <iso13818-1.pdf> <2.4.4.3> <page 61/174>
// table_id                 [8b] *
// section_syntax_indicator [1b]
// '0'                      [1b]
// reserved                 [2b]
// section_length           [12b] **
// transport_stream_id      [16b] **
// reserved                 [2b]
// version_number           [5b]
// current_next_indicator   [1b]  *
// section_number           [8b]  *
// last_section_number      [8b]  *
// -----loop-----
// program_number           [16b] **
// reserved                 [3b]
// program_map_PID          [13b] ** if program_number == 0 then network_PID else program_map_PID
// --------------
// CRC_32                   [32b] **** (not validated)
// ---------------------------------------------------------------------------------------------------
type Pat struct {
	TransportStreamId    uint16
	CurrentNextIndicator uint8
	Programs             []PatProgramElement
}

type PatProgramElement struct {
	ProgramNumber uint16
	PmtPid        uint16
}

// ParsePat parses a PAT section. b must already have had its pointer_field
// stripped via SkipPointerField. Per §4.3, a table with current_next_indicator
// unset must be ignored by the caller (err is nil but pat.CurrentNextIndicator
// will be 0).
func ParsePat(b []byte) (pat Pat, err error) {
	br := nazabits.NewBitReader(b)
	h, herr := parseSectionHeader(&br, b, TableIdPat)
	if herr != nil {
		err = herr
		return
	}
	pat.TransportStreamId, _ = br.ReadBits16(16)
	_, _ = br.ReadBits8(2) // reserved
	_, _ = br.ReadBits8(5) // version_number
	pat.CurrentNextIndicator, _ = br.ReadBits8(1)
	_, _ = br.ReadBits8(8) // section_number
	_, _ = br.ReadBits8(8) // last_section_number

	// section_length covers everything after itself: transport_stream_id(2) +
	// reserved/version/cni(1) + section_number(1) + last_section_number(1) +
	// N*4 program entries + CRC32(4).
	loopBytes := int(h.sectionLength) - 5 - 4
	if loopBytes < 0 {
		err = ErrMpegts
		return
	}
	for i := 0; i+4 <= loopBytes; i += 4 {
		var ppe PatProgramElement
		ppe.ProgramNumber, _ = br.ReadBits16(16)
		_, _ = br.ReadBits8(3) // reserved
		ppe.PmtPid, _ = br.ReadBits16(13)
		pat.Programs = append(pat.Programs, ppe)
	}
	_, _ = br.ReadBits32(32) // CRC32, not validated

	return
}

// SearchPid reports whether pid is any program's PMT pid. program_number==0
// (the network PID entry) is not a PMT and is skipped.
func (pat *Pat) SearchPid(pid uint16) bool {
	for _, ppe := range pat.Programs {
		if ppe.ProgramNumber != 0 && pid == ppe.PmtPid {
			return true
		}
	}
	return false
}
