// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package tsdemux

import (
	"math/bits"
	"strings"

	"github.com/q191201771/tsdemux/pkg/mpegts"
)

// bitBuilder assembles raw test fixtures bit by bit, mirroring the layout
// the production parsers expect, so hand-built TS/PES/SPS fixtures don't
// rely on hand-computed hex literals.
type bitBuilder struct {
	sb strings.Builder
}

func (w *bitBuilder) u(value uint64, n int) *bitBuilder {
	for i := n - 1; i >= 0; i-- {
		if value&(1<<uint(i)) != 0 {
			w.sb.WriteByte('1')
		} else {
			w.sb.WriteByte('0')
		}
	}
	return w
}

func (w *bitBuilder) ue(v uint64) *bitBuilder {
	v1 := v + 1
	n := bits.Len64(v1)
	for i := 0; i < n-1; i++ {
		w.sb.WriteByte('0')
	}
	return w.u(v1, n)
}

func (w *bitBuilder) bytes() []byte {
	s := w.sb.String()
	for len(s)%8 != 0 {
		s += "0"
	}
	out := make([]byte, len(s)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b <<= 1
			if s[i*8+j] == '1' {
				b |= 1
			}
		}
		out[i] = b
	}
	return out
}

// buildSpsNalu builds a baseline-profile SPS NAL (header byte included, no
// VUI) resolving to widthMbsMinus1/heightMapUnitsMinus1 dimensions.
func buildSpsNalu(widthMbsMinus1, heightMapUnitsMinus1 uint64) []byte {
	w := &bitBuilder{}
	w.u(66, 8) // profile_idc: baseline
	w.u(0, 1).u(0, 1).u(0, 1)
	w.u(0, 5)
	w.u(30, 8) // level_idc
	w.ue(0)    // sps_id
	w.ue(0)    // log2_max_frame_num_minus4
	w.ue(0)    // pic_order_cnt_type
	w.ue(0)    // log2_max_pic_order_cnt_lsb_minus4
	w.ue(1)    // num_ref_frames
	w.u(0, 1)  // gaps_in_frame_num_value_allowed_flag
	w.ue(widthMbsMinus1)
	w.ue(heightMapUnitsMinus1)
	w.u(1, 1) // frame_mbs_only_flag
	w.u(0, 1) // direct_8x8_inference_flag
	w.u(0, 1) // frame_cropping_flag
	w.u(0, 1) // vui_parameters_present_flag
	return append([]byte{0x67}, w.bytes()...)
}

// sps1280x720 is an SPS NAL resolving to 1280x720 with no VUI, so fps falls
// back to §4.7's 30.0 default.
func sps1280x720() []byte {
	return buildSpsNalu(79, 44) // (79+1)*16=1280, (44+1)*16=720
}

func naluAud() []byte       { return []byte{0x09, 0x10} }
func naluPps() []byte       { return []byte{0x68, 0xCE, 0x3C, 0x80} }
func naluIdr(n int) []byte {
	b := []byte{0x65, 0x88, 0x84}
	for len(b) < n {
		b = append(b, 0xAB)
	}
	return b
}

// annexBUnit joins NAL units with 4-byte start codes into one Annex-B access
// unit.
func annexBUnit(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func buildPatSection(transportStreamId uint16, programs []mpegts.PatProgramElement) []byte {
	loopBytes := len(programs) * 4
	sectionLength := 5 + loopBytes + 4

	w := &bitBuilder{}
	w.u(uint64(mpegts.TableIdPat), 8)
	w.u(1, 1)
	w.u(0, 1)
	w.u(0b11, 2)
	w.u(uint64(sectionLength), 12)
	w.u(uint64(transportStreamId), 16)
	w.u(0b11, 2)
	w.u(0, 5)
	w.u(1, 1)
	w.u(0, 8)
	w.u(0, 8)
	for _, p := range programs {
		w.u(uint64(p.ProgramNumber), 16)
		w.u(0b111, 3)
		w.u(uint64(p.PmtPid), 13)
	}
	w.u(0xDEADBEEF, 32)
	return w.bytes()
}

func buildPmtSection(programNumber, pcrPid uint16, elements []mpegts.PmtProgramElement) []byte {
	loopBytes := len(elements) * 5
	sectionLength := 9 + loopBytes + 4

	w := &bitBuilder{}
	w.u(uint64(mpegts.TableIdPmt), 8)
	w.u(1, 1)
	w.u(0, 1)
	w.u(0b11, 2)
	w.u(uint64(sectionLength), 12)
	w.u(uint64(programNumber), 16)
	w.u(0b11, 2)
	w.u(0, 5)
	w.u(1, 1)
	w.u(0, 8)
	w.u(0, 8)
	w.u(0b111, 3)
	w.u(uint64(pcrPid), 13)
	w.u(0, 4)
	w.u(0, 12)
	for _, e := range elements {
		w.u(uint64(e.StreamType), 8)
		w.u(0b111, 3)
		w.u(uint64(e.Pid), 13)
		w.u(0, 4)
		w.u(0, 12)
	}
	w.u(0xDEADBEEF, 32)
	return w.bytes()
}

func encodeTimestamp33(marker byte, v uint64) []byte {
	b := make([]byte, 5)
	b[0] = marker<<4 | byte((v>>30)&0x07)<<1 | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte((v>>15)&0x7F)<<1 | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte((v&0x7F)<<1) | 0x01
	return b
}

// buildPesPacket builds a full PES packet (no packet_length framing, as is
// typical for video): header + optional PTS/DTS + payload.
func buildPesPacket(streamId uint8, ptsDtsFlags uint8, pts, dts uint64, payload []byte) []byte {
	var opt []byte
	switch ptsDtsFlags {
	case 0b10:
		opt = encodeTimestamp33(0x02, pts)
	case 0b11:
		opt = append(opt, encodeTimestamp33(0x03, pts)...)
		opt = append(opt, encodeTimestamp33(0x01, dts)...)
	}
	b := []byte{0x00, 0x00, 0x01, streamId, 0x00, 0x00, 0x80, ptsDtsFlags << 6, byte(len(opt))}
	b = append(b, opt...)
	b = append(b, payload...)
	return b
}

// packetize chunks data into 188-byte TS packets on pid, setting PUS on the
// first packet only (pusOnFirst) and stuffing the final packet's adaptation
// field so every packet is exactly 188 bytes, per ISO 13818-1.
func packetize(pid uint16, cc *uint8, data []byte, pusOnFirst bool) []byte {
	var out []byte
	for len(data) > 0 {
		chunk := data
		if len(chunk) > 184 {
			chunk = chunk[:184]
		}
		data = data[len(chunk):]

		pkt := make([]byte, 4)
		pkt[0] = mpegts.SyncByte
		pus := uint8(0)
		if pusOnFirst && out == nil {
			pus = 1
		}
		pkt[1] = byte(pus<<6) | byte(pid>>8)&0x1F
		pkt[2] = byte(pid)
		*cc = (*cc + 1) & 0x0F

		if len(chunk) == 184 {
			pkt[3] = 0x10 | (*cc & 0x0F) // payload only
			pkt = append(pkt, chunk...)
		} else {
			afieldLen := 183 - len(chunk)
			pkt[3] = 0x30 | (*cc & 0x0F) // adaptation + payload
			pkt = append(pkt, byte(afieldLen))
			if afieldLen > 0 {
				pkt = append(pkt, 0x00) // flags byte, all fields absent
				for i := 0; i < afieldLen-1; i++ {
					pkt = append(pkt, 0xFF)
				}
			}
			pkt = append(pkt, chunk...)
		}
		out = append(out, pkt...)
	}
	return out
}

func packetizeSection(pid uint16, cc *uint8, section []byte) []byte {
	withPointer := append([]byte{0x00}, section...)
	return packetize(pid, cc, withPointer, true)
}

func packetizePes(pid uint16, cc *uint8, pes []byte) []byte {
	return packetize(pid, cc, pes, true)
}
