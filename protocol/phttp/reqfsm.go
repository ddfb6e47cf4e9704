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

import (
	"strconv"
	"strings"
)

// reqStateFn 是请求侧状态机的一个状态
//
// 对应 original_source/htp/htp_request.c 中以函数指针表达的各个 REQ_* 状态
type reqStateFn func(c *Conn) stepResult

// reqParser 持有请求侧状态机在一次 Feed 生命周期之外仍需保留的状态
type reqParser struct {
	cur   cursor
	state reqStateFn

	acc             *lineAccumulator
	ignoredLines    int
	pendingHeader   *HeaderLine // 尚未提交的（可能被折叠行追加的）头部行
	pendingHeaderRaws [][]byte  // 折叠进同一个头部的所有原始行

	bodyDataLeft  int64
	chunkedLength int64

	// bufferBody/formBody 支持 SPEC_FULL.md §12 的 params_* 补充：只有当
	// Content-Type 是 application/x-www-form-urlencoded 时才需要把整个请求体
	// 攒起来 其余情况沿用现有的流式 emitBodyData 不做任何额外拷贝
	bufferBody bool
	formBody   []byte
}

func newReqParser(cfg *Config) *reqParser {
	return &reqParser{
		state: reqLine,
		acc:   newLineAccumulator(cfg.MaxLineSize),
	}
}

func isIgnorableLine(line []byte, personality Personality) bool {
	trimmed := trimCRLF(line)
	if len(trimmed) == 0 {
		return true
	}
	if personality == PersonalityIIS51 {
		for _, b := range trimmed {
			if b != ' ' && b != '\t' {
				return false
			}
		}
		return true
	}
	return false
}

func trimCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func isLWS(b byte) bool {
	return b == ' ' || b == '\t'
}

// reqLine 实现 §4.2 REQ_LINE：逐字节拷贝至 LF，过滤可忽略行，随后委托
// 请求行解析 collaborator，推进到 REQ_PROTOCOL
func reqLine(c *Conn) stepResult {
	rp := c.req
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
			rp.ignoredLines++
			continue
		}

		tx := c.beginRequest()
		tx.ReqHeaderLines = append(tx.ReqHeaderLines, line)
		parseRequestLine(c.cfg, tx, trimCRLF(line.Raw))
		tx.Progress = ProgressReqLine

		rp.state = reqProtocol
		return stepOK
	}
}

// reqProtocol 实现 §4.2 REQ_PROTOCOL
func reqProtocol(c *Conn) stepResult {
	tx := c.reqTx
	if tx.IsProtocol09 {
		rp := c.req
		rp.state = reqFinalize
		return stepOK
	}
	tx.Progress = ProgressReqHeaders
	c.req.state = reqHeaders
	return stepOK
}

// reqHeaders 实现 §4.2 REQ_HEADERS
func reqHeaders(c *Conn) stepResult {
	rp := c.req
	tx := c.reqTx

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

		if line.FirstNUL >= 0 {
			tx.setFlag(FlagPathControlChar, 0)
		}

		if isIgnorableLine(line.Raw, c.cfg.Personality) {
			tx.ReqSeparator = line.Raw
			commitPendingHeader(rp, tx, isRequest)
			return reqHeadersComplete(c)
		}

		chomped := trimCRLF(line.Raw)
		if len(chomped) > 0 && isLWS(chomped[0]) {
			if rp.pendingHeader == nil {
				tx.setFlag(FlagInvalidFolding, 0)
			} else {
				rp.pendingHeaderRaws = append(rp.pendingHeaderRaws, line.Raw)
			}
		} else {
			commitPendingHeader(rp, tx, isRequest)
			rp.pendingHeader = &HeaderLine{Raw: line.Raw, NULCount: line.NULCount, FirstNUL: line.FirstNUL}
			rp.pendingHeaderRaws = [][]byte{line.Raw}
		}
		tx.ReqHeaderLines = append(tx.ReqHeaderLines, line)
	}
}

// reqHeadersComplete 提交头部解析结果 决定是继续解析 trailer 还是进入 body
func reqHeadersComplete(c *Conn) stepResult {
	tx := c.reqTx
	if tx.Progress == ProgressReqTrailer {
		c.req.state = reqFinalize
		return stepOK
	}

	applyContentLengthAndTransferCoding(tx)
	c.req.bufferBody = isFormURLEncodedBody(tx)
	c.req.formBody = c.req.formBody[:0]
	tx.Progress = ProgressReqBody
	c.req.state = reqConnectCheck
	return stepOK
}

// commitPendingHeader 把折叠完成的头部行交给头部处理 collaborator
func commitPendingHeader(rp *reqParser, tx *Transaction, side headerSide) {
	if rp.pendingHeader == nil {
		return
	}
	processHeaderLine(tx, rp.pendingHeaderRaws, side)
	rp.pendingHeader = nil
	rp.pendingHeaderRaws = nil
}

// reqConnectCheck 实现 §4.4 CONNECT 握手的第一步
func reqConnectCheck(c *Conn) stepResult {
	tx := c.reqTx
	if strings.EqualFold(tx.Method, "CONNECT") {
		c.req.state = reqConnectWaitResponse
		tx.Progress = ProgressReqComplete
		return stepDataOther
	}
	c.req.state = reqBodyDetermineState
	return stepOK
}

// reqConnectWaitResponse 实现 §4.4 的等待响应阶段
//
// 响应侧按照自己的状态机正常完成并出队该事务（它没有专门的 CONNECT
// 分支：204/304 之外"无 Content-Length/Transfer-Encoding 的响应"本来就
// 会被当作无 body 处理）。这里只负责请求侧的收尾：判断是否应当建立隧道，
// 绝不回退 tx.Progress —— 它此时可能已经被响应侧推进到 RES_COMPLETE
func reqConnectWaitResponse(c *Conn) stepResult {
	tx := c.reqTx
	if tx.Progress < ProgressResLine {
		return stepDataOther
	}
	if tx.ResStatus/100 == 2 {
		c.tunnelEstablished = true
	}
	c.finishRequest()
	c.req.state = reqLine
	return stepOK
}

// reqBodyDetermineState 实现 §4.3 REQ_BODY_DETERMINE
func reqBodyDetermineState(c *Conn) stepResult {
	rp := c.req
	tx := c.reqTx

	switch tx.ReqTransferCoding {
	case TransferChunked:
		rp.state = reqBodyChunkedLength
		tx.Progress = ProgressReqBody
		return stepOK

	case TransferIdentity:
		if tx.ReqContentLength > 0 {
			rp.bodyDataLeft = tx.ReqContentLength
			rp.state = reqBodyIdentity
			tx.Progress = ProgressReqBody
			return stepOK
		}
		rp.state = reqFinalize
		return stepOK

	case TransferNone:
		rp.state = reqFinalize
		return stepOK

	default:
		return stepError
	}
}

// reqBodyIdentity 实现 §4.3 REQ_BODY_IDENTITY
func reqBodyIdentity(c *Conn) stepResult {
	rp := c.req
	tx := c.reqTx

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
		c.emitBodyData(tx, DirInbound, data)
		if rp.bufferBody {
			rp.formBody = append(rp.formBody, data...)
		}
		rp.bodyDataLeft -= n

		if rp.bodyDataLeft == 0 {
			rp.state = reqFinalize
			return stepOK
		}
		if rp.cur.eof() {
			return stepData
		}
	}
}

// reqBodyChunkedLength 实现 §4.3 REQ_BODY_CHUNKED_LENGTH
func reqBodyChunkedLength(c *Conn) stepResult {
	rp := c.req
	tx := c.reqTx

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
			c.logf(LogError, 1, "invalid chunk size line: %v", err)
			return stepError
		}

		if size > 0 {
			rp.chunkedLength = size
			rp.state = reqBodyChunkedData
			return stepOK
		}

		tx.Progress = ProgressReqTrailer
		rp.state = reqHeaders
		return stepOK
	}
}

func parseChunkSizeLine(line []byte) (int64, error) {
	trimmed := strings.TrimSpace(string(trimCRLF(line)))
	if i := strings.IndexByte(trimmed, ';'); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return 0, errInvalidChunkSize
	}
	v, err := strconv.ParseUint(trimmed, 16, 63)
	if err != nil {
		return 0, errInvalidChunkSize
	}
	return int64(v), nil
}

// reqBodyChunkedData 实现 §4.3 REQ_BODY_CHUNKED_DATA
func reqBodyChunkedData(c *Conn) stepResult {
	rp := c.req
	tx := c.reqTx

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
		c.emitBodyData(tx, DirInbound, data)
		if rp.bufferBody {
			rp.formBody = append(rp.formBody, data...)
		}
		rp.chunkedLength -= n

		if rp.chunkedLength == 0 {
			rp.state = reqBodyChunkedDataEnd
			return stepOK
		}
		if rp.cur.eof() {
			return stepData
		}
	}
}

// reqBodyChunkedDataEnd 实现 §4.3 REQ_BODY_CHUNKED_DATA_END
//
// 开放问题 1 的决议：默认宽容处理 非 CR/LF 字节被计数但不拒绝；
// cfg.StrictChunkedDataEnd 打开时遇到非 CR/LF 字节视为结构性错误
func reqBodyChunkedDataEnd(c *Conn) stepResult {
	rp := c.req
	for {
		b, ok := rp.cur.next()
		if !ok {
			return stepData
		}
		if b == '\n' {
			rp.state = reqBodyChunkedLength
			return stepOK
		}
		if c.cfg.StrictChunkedDataEnd && b != '\r' {
			return stepError
		}
	}
}

// reqFinalize 实现 §4.2/§4.3 的 REQ_FINALIZE → REQ_IDLE 转换
func reqFinalize(c *Conn) stepResult {
	tx := c.reqTx
	if c.req.bufferBody && len(c.req.formBody) > 0 {
		var res decodeResult
		tx.ReqParams = DecodeFormBody(c.cfg, c.req.formBody, &res)
		tx.mergeDecodeResult(&res)
	}
	c.req.bufferBody = false
	c.req.formBody = c.req.formBody[:0]

	tx.Progress = ProgressReqComplete
	c.finishRequest()
	c.req.state = reqLine
	return stepOK
}

type headerSide int

const (
	isRequest headerSide = iota
	isResponse
)

var errInvalidChunkSize = errInvalidChunkSizeErr{}

type errInvalidChunkSizeErr struct{}

func (errInvalidChunkSizeErr) Error() string { return "invalid chunk size" }
