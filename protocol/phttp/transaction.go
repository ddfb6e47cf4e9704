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
	"time"

	"github.com/htpguard/htpguard/common/socket"
)

// Direction 标识数据属于连接的哪个方向
type Direction int

const (
	DirInbound Direction = iota
	DirOutbound
)

// TransferCoding 标识一个消息体的传输编码方式
type TransferCoding int

const (
	TransferNone TransferCoding = iota
	TransferIdentity
	TransferChunked
)

// Progress 是事务在其生命周期内的单调推进枚举
type Progress int

const (
	ProgressStart Progress = iota
	ProgressReqLine
	ProgressReqHeaders
	ProgressReqBody
	ProgressReqTrailer
	ProgressReqComplete
	ProgressResLine
	ProgressResHeaders
	ProgressResBody
	ProgressResTrailer
	ProgressResComplete
)

// HeaderLine 对应 spec §3 "Header line" 数据模型
type HeaderLine struct {
	Raw       []byte
	NULCount  int
	FirstNUL  int // -1 表示无 NUL
	Flags     Flags
}

// Header 是一对已解析完成的 Name/Value
type Header struct {
	Name  string
	Value string
}

// Transaction 对应 spec §3 "Transaction" 数据模型
//
// 一个 Transaction 代表一次请求及其（可能尚未到达的）匹配响应
type Transaction struct {
	// 请求侧
	Method        string
	MethodNumber  int
	URIRaw        []byte
	URI           *URI
	ReqProtocol   string
	ReqHeaderLines []HeaderLine
	ReqHeaders    []Header
	ReqSeparator  []byte
	ReqContentLength int64
	ReqTransferCoding TransferCoding
	IsProtocol09  bool

	// 响应侧
	ResStatus      int
	ResReason      string
	ResProtocol    string
	ResHeaderLines []HeaderLine
	ResHeaders     []Header
	ResContentLength int64
	ResTransferCoding TransferCoding

	// ReqQueryParams 是 URI 查询串按 key=value 拆分并解码后的结果（SPEC_FULL.md
	// §12 "Content-Type charset/boundary parsing for params_* policies" 补充）
	ReqQueryParams map[string][]string
	// ReqParams 是 application/x-www-form-urlencoded 请求体拆分并解码后的结果
	// 非表单请求（没有匹配的 Content-Type，或请求体为空）保持为 nil
	ReqParams map[string][]string

	Progress Progress
	Flags    Flags
	ExpectedStatuses []ExpectedStatus

	StartedAt time.Time
	// CompletedAt 请求与响应都完成后设置
	CompletedAt time.Time
}

// setFlag 设置一个异常标记；可选地同时记录期望的响应状态码
func (tx *Transaction) setFlag(f Flags, status int) {
	tx.Flags = tx.Flags.Set(f)
	if status != 0 {
		tx.ExpectedStatuses = append(tx.ExpectedStatuses, ExpectedStatus{Flag: f, Status: status})
	}
}

func (tx *Transaction) mergeDecodeResult(r *decodeResult) {
	tx.Flags = tx.Flags.Set(r.flags)
	tx.ExpectedStatuses = append(tx.ExpectedStatuses, r.statuses...)
}

func (tx *Transaction) headerGet(name string) (string, bool) {
	for _, h := range tx.ReqHeaders {
		if equalFoldASCII(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Proto 实现 socket.RoundTrip
func (tx *Transaction) Proto() socket.L7Proto { return socket.L7ProtoHTTP }

// Request 返回请求视图
func (tx *Transaction) Request() any {
	return struct {
		Method  string
		URI     *URI
		Proto   string
		Headers []Header
	}{tx.Method, tx.URI, tx.ReqProtocol, tx.ReqHeaders}
}

// Response 返回响应视图
func (tx *Transaction) Response() any {
	return struct {
		Status  int
		Reason  string
		Proto   string
		Headers []Header
	}{tx.ResStatus, tx.ResReason, tx.ResProtocol, tx.ResHeaders}
}

// Duration 请求/响应耗时；未完成时返回 0
func (tx *Transaction) Duration() time.Duration {
	if tx.CompletedAt.IsZero() || tx.StartedAt.IsZero() {
		return 0
	}
	return tx.CompletedAt.Sub(tx.StartedAt)
}

// Validate 一个事务只有在请求与响应均完成时才算有效
func (tx *Transaction) Validate() bool {
	return tx.Progress == ProgressResComplete
}
