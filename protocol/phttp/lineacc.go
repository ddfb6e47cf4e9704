// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package phttp

import "github.com/htpguard/htpguard/internal/bufbytes"

// lineAccumulator 是 spec §2 "Line accumulator" 的实现
//
// 基于 internal/bufbytes.Bytes 构建（复用其按容量截断、永不恐慌的写入语义）
// 在其基础上追加了首个 NUL 偏移与 NUL 计数的跟踪，对应 spec §3 中
// "Header line" 数据模型所要求的字段
type lineAccumulator struct {
	buf      *bufbytes.Bytes
	nulCount int
	firstNUL int
}

func newLineAccumulator(maxSize int) *lineAccumulator {
	return &lineAccumulator{
		buf:      bufbytes.New(maxSize),
		firstNUL: -1,
	}
}

// writeByte 追加一个字节并更新 NUL 统计
func (l *lineAccumulator) writeByte(b byte) {
	if b == 0 {
		if l.firstNUL < 0 {
			l.firstNUL = l.buf.Len()
		}
		l.nulCount++
	}
	l.buf.Write([]byte{b})
}

func (l *lineAccumulator) len() int {
	return l.buf.Len()
}

// line 返回累积的原始行字节（含终止的 LF，若已写入）以及 NUL 统计
func (l *lineAccumulator) line() HeaderLine {
	return HeaderLine{
		Raw:      l.buf.Clone(),
		NULCount: l.nulCount,
		FirstNUL: l.firstNUL,
	}
}

func (l *lineAccumulator) reset() {
	l.buf.Reset()
	l.nulCount = 0
	l.firstNUL = -1
}
