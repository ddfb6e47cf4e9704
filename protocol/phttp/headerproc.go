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
	"bytes"
	"strconv"
	"strings"
)

// 本文件实现 spec §4.2 中提到的两个"可配置 collaborator"：
// process_request_line（这里是 parseRequestLine/parseStatusLine）与
// process_request_header（这里是 processHeaderLine），并提供
// SPEC_FULL.md §4.3 的 Content-Length / Transfer-Encoding 消歧逻辑

var methodNumbers = map[string]int{
	"GET": 1, "POST": 2, "PUT": 3, "DELETE": 4, "HEAD": 5,
	"OPTIONS": 6, "TRACE": 7, "CONNECT": 8, "PATCH": 9,
}

// parseRequestLine 解析 "METHOD SP target SP version" 形式的请求行
//
// 没有协议版本 token 时按 HTTP/0.9 处理（tx.IsProtocol09 = true）
func parseRequestLine(cfg *Config, tx *Transaction, line []byte) {
	fields := splitSpaces(line)

	switch len(fields) {
	case 1:
		tx.Method = string(fields[0])
		tx.IsProtocol09 = true
	case 2:
		tx.Method = string(fields[0])
		tx.URIRaw = fields[1]
		tx.IsProtocol09 = true
	default:
		tx.Method = string(fields[0])
		tx.URIRaw = fields[1]
		tx.ReqProtocol = string(fields[2])
	}

	tx.MethodNumber = methodNumbers[strings.ToUpper(tx.Method)]

	if strings.EqualFold(tx.Method, "CONNECT") {
		tx.URI = parseConnectTarget(tx.URIRaw)
		return
	}

	tx.URI = SplitURI(tx.URIRaw)
	decodeTransactionURI(cfg, tx)
}

// parseConnectTarget 解析 CONNECT 方法的 authority-form 目标（host:port）
func parseConnectTarget(raw []byte) *URI {
	u := &URI{Port: -1}
	if i := bytes.LastIndexByte(raw, ':'); i >= 0 {
		u.Host = string(raw[:i])
		u.PortRaw = string(raw[i+1:])
		if p, err := strconv.Atoi(u.PortRaw); err == nil {
			u.Port = p
		}
	} else {
		u.Host = string(raw)
	}
	return u
}

// decodeTransactionURI 对 tx.URI.Path 应用 §4.7 的解码/规范化流水线
//
// cfg 取自拥有该事务的 *Conn，每个连接独立持有配置，解码过程不涉及任何
// 包级可变状态，满足 spec §5 "不同连接可在不同线程上并行运行" 的约束
func decodeTransactionURI(cfg *Config, tx *Transaction) {
	if tx.URI == nil {
		return
	}

	if len(tx.URI.RawPath) > 0 {
		path := append([]byte{}, tx.URI.RawPath...)
		bestfit := cfg.bestFitMap()

		var res decodeResult
		n := decodePath(path, cfg.Path, bestfit, cfg.BestFitReplacementChar, &res)
		n = utf8DecodePath(path, n, cfg.Path, bestfit, cfg.BestFitReplacementChar, &res)
		n = removeDotSegments(path, n)

		tx.URI.Path = string(path[:n])
		tx.mergeDecodeResult(&res)
	}

	if tx.URI.Query != "" {
		var res decodeResult
		tx.ReqQueryParams = DecodeFormBody(cfg, []byte(tx.URI.Query), &res)
		tx.mergeDecodeResult(&res)
	}
}

// parseStatusLine 解析 "HTTP/x.y SP status SP reason" 形式的状态行
func parseStatusLine(tx *Transaction, line []byte) {
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		tx.ResProtocol = ""
		return
	}

	fields := splitSpaces(line)
	if len(fields) == 0 {
		return
	}
	tx.ResProtocol = string(fields[0])
	if len(fields) >= 2 {
		if code, err := strconv.Atoi(string(fields[1])); err == nil {
			tx.ResStatus = code
		}
	}
	if len(fields) >= 3 {
		tx.ResReason = string(bytes.Join(toByteSlices(fields[2:]), []byte(" ")))
	}
}

func toByteSlices(fields [][]byte) [][]byte { return fields }

// splitSpaces 按单个或多个空格/Tab 切分一行 丢弃行尾 CRLF
func splitSpaces(line []byte) [][]byte {
	line = trimCRLF(line)
	var fields [][]byte
	start := -1
	for i := 0; i <= len(line); i++ {
		if i < len(line) && line[i] != ' ' && line[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, line[start:i])
			start = -1
		}
	}
	return fields
}

// processHeaderLine 把一个（可能由折叠行拼接而成的）头部解析为 Name/Value
// 并追加到事务的头部列表
func processHeaderLine(tx *Transaction, raws [][]byte, side headerSide) {
	if len(raws) == 0 {
		return
	}

	var full []byte
	for i, r := range raws {
		chomped := trimCRLF(r)
		if i > 0 {
			full = append(full, ' ')
			full = append(full, bytes.TrimLeft(chomped, " \t")...)
			continue
		}
		full = append(full, chomped...)
	}

	i := bytes.IndexByte(full, ':')
	if i < 0 {
		return
	}
	name := strings.TrimSpace(string(full[:i]))
	value := strings.TrimSpace(string(full[i+1:]))

	h := Header{Name: name, Value: value}
	if side == isRequest {
		tx.ReqHeaders = append(tx.ReqHeaders, h)
	} else {
		tx.ResHeaders = append(tx.ResHeaders, h)
	}
}

// applyContentLengthAndTransferCoding 实现 §4.3 REQ_BODY_DETERMINE 的消歧规则：
// Transfer-Encoding: chunked 存在时 Content-Length 被忽略
func applyContentLengthAndTransferCoding(tx *Transaction) {
	te, hasTE := tx.headerGet("Transfer-Encoding")
	if hasTE && strings.Contains(strings.ToLower(te), "chunked") {
		tx.ReqTransferCoding = TransferChunked
		return
	}

	cl, hasCL := tx.headerGet("Content-Length")
	if hasCL {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 63); err == nil && n >= 0 {
			tx.ReqContentLength = n
			if n > 0 {
				tx.ReqTransferCoding = TransferIdentity
			} else {
				tx.ReqTransferCoding = TransferNone
			}
			return
		}
	}
	tx.ReqTransferCoding = TransferNone
}

// isFormURLEncodedBody 判断请求体是否应当按 application/x-www-form-urlencoded
// 拆分为 key=value 对（SPEC_FULL.md §12 补充）只比较 ';' 之前的 media type
// 忽略 charset 等参数
func isFormURLEncodedBody(tx *Transaction) bool {
	ct, ok := tx.headerGet("Content-Type")
	if !ok {
		return false
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.EqualFold(strings.TrimSpace(ct), "application/x-www-form-urlencoded")
}

func applyResContentLengthAndTransferCoding(tx *Transaction) {
	te, hasTE := resHeaderGet(tx, "Transfer-Encoding")
	if hasTE && strings.Contains(strings.ToLower(te), "chunked") {
		tx.ResTransferCoding = TransferChunked
		return
	}

	cl, hasCL := resHeaderGet(tx, "Content-Length")
	if hasCL {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 63); err == nil && n >= 0 {
			tx.ResContentLength = n
			if n > 0 {
				tx.ResTransferCoding = TransferIdentity
			} else {
				tx.ResTransferCoding = TransferNone
			}
			return
		}
	}
	tx.ResTransferCoding = TransferNone
}

func resHeaderGet(tx *Transaction, name string) (string, bool) {
	for _, h := range tx.ResHeaders {
		if equalFoldASCII(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// NormalizeHostname 小写化并去掉末尾的点 对应 SPEC_FULL.md §12 的补充特性
func NormalizeHostname(host string) string {
	host = strings.ToLower(host)
	return strings.TrimSuffix(host, ".")
}
