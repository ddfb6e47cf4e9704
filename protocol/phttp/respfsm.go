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

import "strings"

// resStateFn 是响应侧状态机的一个状态 对应 SPEC_FULL.md §4.8
type resStateFn func(c *Conn) stepResult

type resParser struct {
	cur   cursor
	state resStateFn

	acc           *lineAccumulator
	pendingHeader *HeaderLine
	pendingHeaderRaws [][]byte

	bodyDataLeft  int64
	chunkedLength int64
}

func newResParser(cfg *Config) *resParser {
	return &resParser{
		state: resLine,
		acc:   newLineAccumulator(cfg.MaxLineSize),
	}
}

// resLine 解析状态行（status line）；不以 "HTTP/" 开头的响应被当作 HTTP/0.9
func resLine(c *Conn) stepResult {
	rp := c.res
	for {
		b, ok := rp.cur.next()
		if !ok {
			return stepData
		}
		rp.acc.writeByte(b)
		if b != '\n' {
			continue
		}

		line := rp.acc.line()
		rp.acc.reset()

		tx := c.headTx()
		if tx == nil {
			// 没有挂起的请求可配对 记录日志并丢弃该行继续等待
			c.logf(LogWarn, 4, "response line arrived with no pending request: %q", string(trimCRLF(line.Raw)))
			rp.state = resLine
			return stepOK
		}
		tx.ResHeaderLines = append(tx.ResHeaderLines, line)
		parseStatusLine(tx, trimCRLF(line.Raw))
		tx.Progress = ProgressResLine

		rp.state = resProtocol
		return stepOK
	}
}

func resProtocol(c *Conn) stepResult {
	tx := c.headTx()
	if tx == nil || tx.ResProtocol == "" {
		c.res.state = resFinalize
		return stepOK
	}
	tx.Progress = ProgressResHeaders
	c.res.state = resHeaders
	return stepOK
}

func resHeaders(c *Conn) stepResult {
	rp := c.res
	tx := c.headTx()

	for {
		b, ok := rp.cur.next()
		if !ok {
			return stepData
		}
		rp.acc.writeByte(b)
		if b != '\n' {
			continue
		}

		line := rp.acc.line()
		rp.acc.reset()

		if isIgnorableLine(line.Raw, c.cfg.Personality) {
			commitResHeader(rp, tx)
			rp.state = resBodyDetermineState
			return resHeadersComplete(c)
		}

		chomped := trimCRLF(line.Raw)
		if len(chomped) > 0 && isLWS(chomped[0]) {
			if rp.pendingHeader == nil {
				tx.setFlag(FlagInvalidFolding, 0)
			} else {
				rp.pendingHeaderRaws = append(rp.pendingHeaderRaws, line.Raw)
			}
		} else {
			commitResHeader(rp, tx)
			rp.pendingHeader = &HeaderLine{Raw: line.Raw, NULCount: line.NULCount, FirstNUL: line.FirstNUL}
			rp.pendingHeaderRaws = [][]byte{line.Raw}
		}
		tx.ResHeaderLines = append(tx.ResHeaderLines, line)
	}
}

func commitResHeader(rp *resParser, tx *Transaction) {
	if rp.pendingHeader == nil {
		return
	}
	processHeaderLine(tx, rp.pendingHeaderRaws, isResponse)
	rp.pendingHeader = nil
	rp.pendingHeaderRaws = nil
}

func resHeadersComplete(c *Conn) stepResult {
	tx := c.headTx()
	if tx.Progress == ProgressResTrailer {
		tx.Progress = ProgressResComplete
		c.completeHeadTx()
		c.res.state = resLine
		return stepOK
	}

	applyResContentLengthAndTransferCoding(tx)
	tx.Progress = ProgressResBody
	c.res.state = resBodyDetermineStateEntry
	return stepOK
}

// resBodyDetermineStateEntry 先应用 §4.8 的"无 body"规则 再进入通用 DETERMINE
func resBodyDetermineStateEntry(c *Conn) stepResult {
	tx := c.headTx()
	if responseNeverHasBody(tx) {
		tx.ResTransferCoding = TransferNone
	}
	return resBodyDetermineState(c)
}

// responseNeverHasBody 实现 SPEC_FULL.md §4.8：1xx/204/304 与 HEAD 响应的特殊规则
func responseNeverHasBody(tx *Transaction) bool {
	if tx.ResStatus/100 == 1 || tx.ResStatus == 204 || tx.ResStatus == 304 {
		return true
	}
	return strings.EqualFold(tx.Method, "HEAD")
}

func resBodyDetermineState(c *Conn) stepResult {
	rp := c.res
	tx := c.headTx()

	switch tx.ResTransferCoding {
	case TransferChunked:
		rp.state = resBodyChunkedLength
		return stepOK

	case TransferIdentity:
		if tx.ResContentLength > 0 {
			rp.bodyDataLeft = tx.ResContentLength
			rp.state = resBodyIdentity
			return stepOK
		}
		rp.state = resFinalize
		return stepOK

	case TransferNone:
		rp.state = resFinalize
		return stepOK

	default:
		return stepError
	}
}

func resBodyIdentity(c *Conn) stepResult {
	rp := c.res
	tx := c.headTx()

	for {
		if rp.cur.eof() {
			return stepData
		}
		n := rp.bodyDataLeft
		avail := int64(len(rp.cur.remaining()))
		if n > avail {
			n = avail
		}
		data := rp.cur.consume(int(n))
		c.emitBodyData(tx, DirOutbound, data)
		rp.bodyDataLeft -= n

		if rp.bodyDataLeft == 0 {
			rp.state = resFinalize
			return stepOK
		}
	}
}

func resBodyChunkedLength(c *Conn) stepResult {
	rp := c.res
	tx := c.headTx()

	for {
		b, ok := rp.cur.next()
		if !ok {
			return stepData
		}
		rp.acc.writeByte(b)
		if b != '\n' {
			continue
		}
		line := rp.acc.line()
		rp.acc.reset()

		size, err := parseChunkSizeLine(line.Raw)
		if err != nil {
			c.logf(LogError, 3, "invalid response chunk size line: %v", err)
			return stepError
		}

		if size > 0 {
			rp.chunkedLength = size
			rp.state = resBodyChunkedData
			return stepOK
		}

		tx.Progress = ProgressResTrailer
		rp.state = resHeaders
		return stepOK
	}
}

func resBodyChunkedData(c *Conn) stepResult {
	rp := c.res
	tx := c.headTx()

	for {
		if rp.cur.eof() {
			return stepData
		}
		n := rp.chunkedLength
		avail := int64(len(rp.cur.remaining()))
		if n > avail {
			n = avail
		}
		data := rp.cur.consume(int(n))
		c.emitBodyData(tx, DirOutbound, data)
		rp.chunkedLength -= n

		if rp.chunkedLength == 0 {
			rp.state = resBodyChunkedDataEnd
			return stepOK
		}
	}
}

func resBodyChunkedDataEnd(c *Conn) stepResult {
	rp := c.res
	for {
		b, ok := rp.cur.next()
		if !ok {
			return stepData
		}
		if b == '\n' {
			rp.state = resBodyChunkedLength
			return stepOK
		}
		if c.cfg.StrictChunkedDataEnd && b != '\r' {
			return stepError
		}
	}
}

func resFinalize(c *Conn) stepResult {
	tx := c.headTx()
	if tx != nil {
		tx.Progress = ProgressResComplete
		c.completeHeadTx()
	}
	c.res.state = resLine
	return stepOK
}
