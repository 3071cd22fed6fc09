// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lal
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import "strings"

// bitBuilder assembles raw test fixtures bit by bit so the encoding matches
// the field order the parsers expect without hand-computed hex literals.
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
