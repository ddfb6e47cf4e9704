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

// Flags 记录一次事务在解析过程中累积的异常标记
//
// 标记只会设置不会清除 即 set-monotonic
type Flags uint64

const (
	// FlagInvalidFolding 在没有前一个 Header 的情况下出现了折叠行
	FlagInvalidFolding Flags = 1 << iota

	// FlagPathOverlongU %u 编码的高字节为 0
	FlagPathOverlongU

	// FlagPathHalfFullRange 编码命中 U+FF00-U+FFEF 半全角区间
	FlagPathHalfFullRange

	// FlagPathEncodedNUL 路径中出现了编码后的 NUL（%00 或 %u0000）
	FlagPathEncodedNUL

	// FlagPathRawNUL 路径中出现了原始 NUL 字节
	FlagPathRawNUL

	// FlagPathEncodedSeparator 路径中出现了编码后的分隔符（如 %2F %5C）
	FlagPathEncodedSeparator

	// FlagPathInvalidEncoding 路径中出现了非法的 %HH 编码
	FlagPathInvalidEncoding

	// FlagPathControlChar 路径中出现了 < 0x20 的控制字符
	//
	// 请求头部行中出现 NUL 字节时也会设置此标记
	FlagPathControlChar

	// FlagPathUTF8Valid 路径整体是合法的多字节 UTF-8（且未出现非法序列）
	FlagPathUTF8Valid

	// FlagPathUTF8Invalid 路径出现了非法的 UTF-8 序列
	FlagPathUTF8Invalid

	// FlagPathUTF8Overlong 路径出现了过长编码的 UTF-8 序列
	FlagPathUTF8Overlong

	// FlagPathUnicodeSeen 路径中出现过 %u 解码（无论是否合法）
	FlagPathUnicodeSeen

	// FlagHostnameInvalid Host 头与 URI 中的 host 不一致或非法
	//
	// phttp 的解析流程不会设置此标记 也不做 Host 头与 URI host 的比对
	FlagHostnameInvalid
)

// Has 判断是否设置了 f 中的全部标记位
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// Set 返回设置了 f 之后的新标记集合（标记只增不减）
func (fl Flags) Set(f Flags) Flags {
	return fl | f
}

// ExpectedStatus 记录一条异常对应的期望响应状态码
//
// 部分策略命中后会设置期望的响应状态码 供检测逻辑与服务端的真实响应比对
// 0 表示未设置
type ExpectedStatus struct {
	Flag   Flags
	Status int
}
