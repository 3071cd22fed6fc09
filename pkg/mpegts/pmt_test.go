// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildPmtSection(programNumber, pcrPid uint16, elements []PmtProgramElement) []byte {
	loopBytes := len(elements) * 5
	sectionLength := 9 + loopBytes + 4

	w := &bitBuilder{}
	w.u(uint64(TableIdPmt), 8)
	w.u(1, 1)
	w.u(0, 1)
	w.u(0b11, 2)
	w.u(uint64(sectionLength), 12)
	w.u(uint64(programNumber), 16)
	w.u(0b11, 2)
	w.u(0, 5)
	w.u(1, 1) // current_next_indicator
	w.u(0, 8)
	w.u(0, 8)
	w.u(0b111, 3)
	w.u(uint64(pcrPid), 13)
	w.u(0, 4)
	w.u(0, 12) // program_info_length
	for _, e := range elements {
		w.u(uint64(e.StreamType), 8)
		w.u(0b111, 3)
		w.u(uint64(e.Pid), 13)
		w.u(0, 4)
		w.u(0, 12) // es_info_length
	}
	w.u(0xDEADBEEF, 32)
	return w.bytes()
}

func TestParsePmt(t *testing.T) {
	elements := []PmtProgramElement{
		{StreamType: StreamTypeH264, Pid: 0x101},
		{StreamType: StreamTypeAac, Pid: 0x102},
	}
	b := buildPmtSection(1, 0x101, elements)

	pmt, err := ParsePmt(b)
	assert.Equal(t, nil, err, "fxxk.")
	assert.Equal(t, uint16(1), pmt.ProgramNumber, "fxxk.")
	assert.Equal(t, uint8(1), pmt.CurrentNextIndicator, "fxxk.")
	assert.Equal(t, uint16(0x101), pmt.PcrPid, "fxxk.")
	assert.Equal(t, 2, len(pmt.ProgramElements), "fxxk.")

	video := pmt.SearchPid(0x101)
	assert.NotEqual(t, nil, video, "fxxk.")
	assert.Equal(t, StreamTypeH264, video.StreamType, "fxxk.")

	assert.Equal(t, true, pmt.SearchPid(0x999) == nil, "fxxk.")
}

func TestParsePmt_WrongTableId(t *testing.T) {
	b := buildPmtSection(1, 0x101, nil)
	b[0] = TableIdPat
	_, err := ParsePmt(b)
	assert.NotEqual(t, nil, err, "fxxk.")
}

func TestParsePmt_TooShort(t *testing.T) {
	_, err := ParsePmt([]byte{TableIdPmt, 0x00})
	assert.NotEqual(t, nil, err, "fxxk.")
}
