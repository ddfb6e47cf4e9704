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

// DefaultBestFitMap 是内置的 best-fit 映射表 key 为 (hi<<8)|lo 即 UTF-16
// codepoint 本身 value 为视觉上等价的单字节 ASCII
//
// 原始实现把该表存放为以 0x0000 结尾的 {hi, lo, mapped} 三元组数组
// 在每次查表时线性扫描（spec 的开放问题 2）。本仓库采用哈希表实现
// 见 DESIGN.md "Open Question decisions" 一节的决议说明
//
// 默认表覆盖最常见的规避手法：全角 ASCII（U+FF01-U+FF5E，Windows/IIS
// 会将其等价地折叠为半角 ASCII）以及若干常见的弯引号/破折号
var DefaultBestFitMap = buildDefaultBestFitMap()

func buildDefaultBestFitMap() map[uint16]byte {
	m := make(map[uint16]byte, 96)

	// 全角 ASCII 范围 U+FF01..U+FF5E 对应半角 0x21..0x7E
	for cp := uint16(0xFF01); cp <= 0xFF5E; cp++ {
		m[cp] = byte(cp - 0xFF00 + 0x20)
	}
	// 全角空格
	m[0x3000] = ' '

	// 常见的弯引号/破折号/省略号 best-fit 为其 ASCII 视觉等价物
	m[0x2018] = '\'' // LEFT SINGLE QUOTATION MARK
	m[0x2019] = '\'' // RIGHT SINGLE QUOTATION MARK
	m[0x201C] = '"'  // LEFT DOUBLE QUOTATION MARK
	m[0x201D] = '"'  // RIGHT DOUBLE QUOTATION MARK
	m[0x2013] = '-'  // EN DASH
	m[0x2014] = '-'  // EM DASH
	m[0x2044] = '/'  // FRACTION SLASH
	m[0x2215] = '/'  // DIVISION SLASH
	m[0x2216] = '\\' // SET MINUS (visually a backslash)
	m[0xFF0F] = '/'  // FULLWIDTH SOLIDUS (already covered by range above)
	m[0xFF3C] = '\\' // FULLWIDTH REVERSE SOLIDUS (already covered by range above)

	return m
}

// bestFitCodepoint 查表返回 codepoint 对应的单字节映射
//
// 对应 original_source/htp/htp_util.c 中的 bestfit_codepoint()
func bestFitCodepoint(table map[uint16]byte, replacement byte, codepoint uint32) byte {
	if codepoint < 0x100 {
		return byte(codepoint)
	}
	if codepoint > 0xFFFF {
		return replacement
	}
	if b, ok := table[uint16(codepoint)]; ok {
		return b
	}
	return replacement
}

// isHalfFullRangeCodepoint 判断 codepoint 是否落在半角/全角形式区（U+FF00-U+FFEF）
func isHalfFullRangeCodepoint(codepoint uint32) bool {
	return codepoint >= 0xFF00 && codepoint <= 0xFFEF
}
