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

func TestSkipPointerField(t *testing.T) {
	b := []byte{0x00, 0xAA, 0xBB}
	rest, err := SkipPointerField(b)
	assert.Equal(t, nil, err, "fxxk.")
	assert.Equal(t, []byte{0xAA, 0xBB}, rest, "fxxk.")
}

func TestSkipPointerField_WithStuffing(t *testing.T) {
	b := []byte{0x02, 0xFF, 0xFF, 0xAA, 0xBB}
	rest, err := SkipPointerField(b)
	assert.Equal(t, nil, err, "fxxk.")
	assert.Equal(t, []byte{0xAA, 0xBB}, rest, "fxxk.")
}

func TestSkipPointerField_Overflow(t *testing.T) {
	_, err := SkipPointerField([]byte{0x05, 0x00})
	assert.NotEqual(t, nil, err, "fxxk.")
}

func TestIsVideoAndAudioStreamType(t *testing.T) {
	assert.Equal(t, true, IsVideoStreamType(StreamTypeH264), "fxxk.")
	assert.Equal(t, false, IsVideoStreamType(StreamTypeAac), "fxxk.")
	assert.Equal(t, true, IsAudioStreamType(StreamTypeAac), "fxxk.")
	assert.Equal(t, false, IsAudioStreamType(StreamTypeH264), "fxxk.")
}
