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
	"github.com/q191201771/naza/pkg/nazalog"
)

// Pmt
//
// ----------------------------------------
// Program Map Table
// <iso13818-1.pdf> <2.4.4.8> <page 64/174>
// table_id                 [8b]  *
// section_syntax_indicator [1b]
// 0                        [1b]
// reserved                 [2b]
// section_length           [12b] **
// program_number           [16b] **
// reserved                 [2b]
// version_number           [5b]
// current_next_indicator   [1b]  *
// section_number           [8b]  *
// last_section_number      [8b]  *
// reserved                 [3b]
// PCR_PID                  [13b] **
// reserved                 [4b]
// program_info_length      [12b] **
// -----loop-----
// stream_type              [8b]  *
// reserved                 [3b]
// elementary_PID           [13b] **
// reserved                 [4b]
// ES_info_length           [12b] **
// --------------
// CRC32                    [32b] **** (not validated)
// ----------------------------------------
type Pmt struct {
	ProgramNumber        uint16
	CurrentNextIndicator uint8
	PcrPid               uint16
	ProgramElements       []PmtProgramElement
}

type PmtProgramElement struct {
	StreamType uint8
	Pid        uint16
}

// ParsePmt parses a PMT section. b must already have had its pointer_field
// stripped via SkipPointerField.
func ParsePmt(b []byte) (pmt Pmt, err error) {
	br := nazabits.NewBitReader(b)
	h, herr := parseSectionHeader(&br, b, TableIdPmt)
	if herr != nil {
		err = herr
		return
	}
	pmt.ProgramNumber, _ = br.ReadBits16(16)
	_, _ = br.ReadBits8(2) // reserved
	_, _ = br.ReadBits8(5) // version_number
	pmt.CurrentNextIndicator, _ = br.ReadBits8(1)
	_, _ = br.ReadBits8(8) // section_number
	_, _ = br.ReadBits8(8) // last_section_number
	_, _ = br.ReadBits8(3) // reserved
	pmt.PcrPid, _ = br.ReadBits16(13)
	_, _ = br.ReadBits8(4) // reserved
	programInfoLength, _ := br.ReadBits16(12)
	if programInfoLength != 0 {
		nazalog.Warnf("mpegts: pmt program_info_length=%d, skipping descriptor bytes", programInfoLength)
		_, _ = br.ReadBytes(uint(programInfoLength))
	}

	// section_length covers everything after itself: program_number(2) +
	// reserved/version/cni(1) + section_number(1) + last_section_number(1) +
	// reserved/pcr_pid(2) + reserved/program_info_length(2) +
	// program_info_length descriptor bytes + stream loop + CRC32(4).
	loopBytes := int(h.sectionLength) - 9 - int(programInfoLength) - 4
	if loopBytes < 0 {
		err = ErrMpegts
		return
	}
	for i := 0; i+5 <= loopBytes; i += 5 {
		var ppe PmtProgramElement
		ppe.StreamType, _ = br.ReadBits8(8)
		_, _ = br.ReadBits8(3) // reserved
		ppe.Pid, _ = br.ReadBits16(13)
		_, _ = br.ReadBits8(4) // reserved
		esInfoLength, _ := br.ReadBits16(12)
		if esInfoLength != 0 {
			nazalog.Warnf("mpegts: pmt es_info_length=%d for pid=%d, skipping descriptor bytes", esInfoLength, ppe.Pid)
			_, _ = br.ReadBytes(uint(esInfoLength))
			i += int(esInfoLength)
		}
		pmt.ProgramElements = append(pmt.ProgramElements, ppe)
	}
	_, _ = br.ReadBits32(32) // CRC32, not validated

	return
}

func (pmt *Pmt) SearchPid(pid uint16) *PmtProgramElement {
	for i := range pmt.ProgramElements {
		if pmt.ProgramElements[i].Pid == pid {
			return &pmt.ProgramElements[i]
		}
	}
	return nil
}
