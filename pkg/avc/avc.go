// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"errors"

	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabits"
)

var ErrAvc = errors.New("tsdemux.avc: fxxk")

var (
	NaluStartCode3 = []byte{0x00, 0x00, 0x01}
	NaluStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

const MaxNaluSize = 1024 * 1024 // 1 MiB, per §4.5

var NaluUintTypeMapping = map[uint8]string{
	1: "SLICE",
	5: "IDR",
	6: "SEI",
	7: "SPS",
	8: "PPS",
	9: "AUD",
}

var SliceTypeMapping = map[uint8]string{
	0: "P",
	1: "B",
	2: "I",
	3: "SP",
	4: "SI",
	5: "P",
	6: "B",
	7: "I",
	8: "SP",
	9: "SI",
}

const (
	NaluUnitTypeSlice    uint8 = 1
	NaluUnitTypeIDRSlice uint8 = 5
	NaluUnitTypeSEI      uint8 = 6
	NaluUnitTypeSPS      uint8 = 7
	NaluUnitTypePPS      uint8 = 8
	NaluUnitTypeAUD      uint8 = 9
)

const (
	SliceTypeP  uint8 = 0
	SliceTypeB  uint8 = 1
	SliceTypeI  uint8 = 2
	SliceTypeSP uint8 = 3
	SliceTypeSI uint8 = 4
)

func CalcSliceType(nalu []byte) uint8 {
	if len(nalu) < 2 {
		return 0
	}
	c := nalu[1]
	var leadingZeroBits int
	index := 6
	for ; index >= 0; index-- {
		v := nazabits.GetBit8(c, uint(index))
		if v == 0 {
			leadingZeroBits++
		} else {
			break
		}
	}
	rbLeadingZeroBits := nazabits.GetBits8(c, uint(index-1), uint(leadingZeroBits))
	codeNum := (1 << leadingZeroBits) - 1 + rbLeadingZeroBits
	if codeNum > 4 {
		codeNum -= 5
	}
	return uint8(codeNum)
}

func CalcSliceTypeReadable(nalu []byte) string {
	t := CalcSliceType(nalu)
	ret, ok := SliceTypeMapping[t]
	if !ok {
		return "unknown"
	}
	return ret
}

func CalcNaluType(nalu []byte) uint8 {
	return nalu[0] & 0x1f
}

func CalcNaluTypeReadable(nalu []byte) string {
	t := nalu[0] & 0x1f
	ret, ok := NaluUintTypeMapping[t]
	if !ok {
		return "unknown"
	}
	return ret
}

// validNaluType reports whether t is an acceptable NAL unit type per §4.5:
// nal_type==0 or >31 is rejected.
func validNaluType(t uint8) bool {
	return t >= 1 && t <= 31
}

type startCodeMatch struct {
	offset int
	length int
}

// findStartCodes locates every Annex-B start code (3 or 4 byte) in b.
func findStartCodes(b []byte) []startCodeMatch {
	var matches []startCodeMatch
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			length := 3
			if i > 0 && b[i-1] == 0 {
				length = 4
			}
			matches = append(matches, startCodeMatch{offset: i + 3 - length, length: length})
			i += 2
		}
	}
	return matches
}

// IterateNaluAnnexB walks an Annex-B byte stream (0x000001 or 0x00000001
// start codes), calling onNalu with each NAL unit's payload (start code
// stripped). Malformed regions — a NAL with an invalid type or an
// out-of-bounds size (0 or > MaxNaluSize) — are skipped; scanning resumes at
// the next start code, per §4.5.
func IterateNaluAnnexB(annexb []byte, onNalu func(nalu []byte)) {
	starts := findStartCodes(annexb)
	for i, s := range starts {
		begin := s.offset + s.length
		var end int
		if i+1 < len(starts) {
			end = starts[i+1].offset
		} else {
			end = len(annexb)
		}
		if begin >= end {
			continue
		}
		nalu := annexb[begin:end]
		if len(nalu) == 0 || len(nalu) > MaxNaluSize {
			continue
		}
		if !validNaluType(CalcNaluType(nalu)) {
			continue
		}
		onNalu(nalu)
	}
}

// AnnexBToAVCC converts an Annex-B H.264 access unit into AVCC form: each
// NAL unit prefixed with a big-endian 4-byte length, start codes stripped.
// If annexb contains no start codes but looks like a single raw NAL (valid
// nal_type in byte 0), it is treated as one NAL unit, per §4.5.
func AnnexBToAVCC(annexb []byte) ([]byte, error) {
	if len(annexb) == 0 {
		return nil, ErrAvc
	}
	starts := findStartCodes(annexb)
	if len(starts) == 0 {
		if !validNaluType(CalcNaluType(annexb)) {
			return nil, ErrAvc
		}
		return appendAVCCNalu(nil, annexb), nil
	}
	var out []byte
	IterateNaluAnnexB(annexb, func(nalu []byte) {
		out = appendAVCCNalu(out, nalu)
	})
	return out, nil
}

func appendAVCCNalu(out []byte, nalu []byte) []byte {
	var lenBuf [4]byte
	n := uint32(len(nalu))
	lenBuf[0] = byte(n >> 24)
	lenBuf[1] = byte(n >> 16)
	lenBuf[2] = byte(n >> 8)
	lenBuf[3] = byte(n)
	out = append(out, lenBuf[:]...)
	out = append(out, nalu...)
	return out
}

// AVCCToAnnexB converts an AVCC access unit back into Annex-B form, using a
// 4-byte start code uniformly (per §8's AVCC round-trip property: "start-code
// width may normalize to 4").
func AVCCToAnnexB(avcc []byte) ([]byte, error) {
	var out []byte
	i := 0
	for i+4 <= len(avcc) {
		naluLen := int(bele.BeUint32(avcc[i:]))
		i += 4
		if naluLen <= 0 || i+naluLen > len(avcc) {
			return nil, ErrAvc
		}
		out = append(out, NaluStartCode4...)
		out = append(out, avcc[i:i+naluLen]...)
		i += naluLen
	}
	if i != len(avcc) {
		return nil, ErrAvc
	}
	return out, nil
}

// IsKeyframeAnnexB reports whether an Annex-B access unit is a keyframe:
// contains any NAL of type IDR(5) or SPS(7), per §4.5.
func IsKeyframeAnnexB(annexb []byte) bool {
	key := false
	IterateNaluAnnexB(annexb, func(nalu []byte) {
		switch CalcNaluType(nalu) {
		case NaluUnitTypeIDRSlice, NaluUnitTypeSPS:
			key = true
		}
	})
	return key
}
