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

import "time"

// cursor 是 spec §4.1 "Byte cursor" 的实现
//
// 包装当前输入 chunk 与读取偏移；状态机通过它读取字节 并在数据耗尽时
// 发出"需要更多数据"的信号（通过 peek/copy 返回 false）
type cursor struct {
	data      []byte
	offset    int
	chunkNum  uint64
	streamOff int64
	at        time.Time
}

func (c *cursor) install(data []byte, t time.Time) {
	c.data = data
	c.offset = 0
	c.chunkNum++
	c.at = t
}

// peek 返回下一个未消费字节 不移动偏移
func (c *cursor) peek() (byte, bool) {
	if c.offset >= len(c.data) {
		return 0, false
	}
	return c.data[c.offset], true
}

// advance 移动游标一个字节
func (c *cursor) advance() {
	c.offset++
	c.streamOff++
}

// next 读取并消费下一个字节
func (c *cursor) next() (byte, bool) {
	b, ok := c.peek()
	if !ok {
		return 0, false
	}
	c.advance()
	return b, true
}

// remaining 返回当前 chunk 尚未消费的部分
func (c *cursor) remaining() []byte {
	return c.data[c.offset:]
}

// consume 消费 n 个字节并返回被消费的切片
func (c *cursor) consume(n int) []byte {
	if n > len(c.data)-c.offset {
		n = len(c.data) - c.offset
	}
	b := c.data[c.offset : c.offset+n]
	c.offset += n
	c.streamOff += int64(n)
	return b
}

// eof 返回当前 chunk 是否已耗尽
func (c *cursor) eof() bool {
	return c.offset >= len(c.data)
}

// consumed 返回当前 chunk 中已消费的偏移 对应 spec 的 consumed()
func (c *cursor) consumed() int {
	return c.offset
}
