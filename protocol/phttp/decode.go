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

// 本文件实现 spec §4.7 描述的 URI 解码 / 路径规范化流水线
//
// 算法移植自 original_source/htp/htp_util.c 中的
// htp_decode_path_inplace / x2c / bestfit_codepoint /
// htp_utf8_decode_path_inplace / htp_utf8_validate_path /
// htp_normalize_uri_path_inplace，使用 Go 的原地 read/write 游标改写
// 代替原始实现的 C 指针运算

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// x2c 将两个十六进制字符解码为一个字节
//
// 对应 original_source/htp/htp_util.c 的 x2c()
func x2c(hi, lo byte) byte {
	return hexVal(hi)<<4 | hexVal(lo)
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// decodeResult 保存一次路径解码/规范化产生的标记与期望状态
type decodeResult struct {
	flags      Flags
	statuses   []ExpectedStatus
	truncated  bool
	sawValidU8 bool
	sawBadU8   bool
}

func (r *decodeResult) setFlag(f Flags, status int) {
	r.flags = r.flags.Set(f)
	if status != 0 {
		r.statuses = append(r.statuses, ExpectedStatus{Flag: f, Status: status})
	}
}

// decodePath 原地对 path 做百分号解码 / best-fit 映射 / 控制字符与分隔符策略
//
// 返回改写后的切片长度（w），调用方应以 path[:w] 作为解码产物
//
// 与 htp_util.c 的 htp_decode_path_inplace 一致：不管一个输出字节是由 %HH
// %uXXXX 解码出来的 还是原样拷贝的字面字节 都要经过同一段尾部处理（反斜杠
// 重写为分隔符、大小写折叠、分隔符压缩）再写入 output 下面的 emit 闭包就是
// 这段共享尾部 所有分支都只负责"产出下一个字节"再交给 emit 不直接操作 w
func decodePath(path []byte, policy PathPolicy, bestfit map[uint16]byte, replacement byte, res *decodeResult) int {
	r, w := 0, 0
	sep := byte('/')
	prevWasSep := false

	emit := func(c byte) {
		if policy.BackslashSeparators && c == '\\' {
			c = sep
		}
		if policy.CaseInsensitive && c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		if policy.CompressSeparators {
			if c == sep {
				if prevWasSep {
					return
				}
				prevWasSep = true
			} else {
				prevWasSep = false
			}
		}
		path[w] = c
		w++
	}

	for r < len(path) {
		c := path[r]

		switch {
		case c == '%':
			// %u / %U 编码
			if policy.UDecodingEnabled && r+5 < len(path) && (path[r+1] == 'u' || path[r+1] == 'U') &&
				isHex(path[r+2]) && isHex(path[r+3]) && isHex(path[r+4]) && isHex(path[r+5]) {
				hi := x2c(path[r+2], path[r+3])
				lo := x2c(path[r+4], path[r+5])
				codepoint := uint32(hi)<<8 | uint32(lo)

				res.setFlag(FlagPathUnicodeSeen, policy.UnicodeUnwantedStatus)
				res.setFlag(FlagPathUnicodeSeen, policy.UEncodingUnwantedStatus)
				if hi == 0 {
					res.setFlag(FlagPathOverlongU, 0)
				}
				if hi == 0xff {
					res.setFlag(FlagPathHalfFullRange, 0)
				}

				mapped := bestFitCodepoint(bestfit, replacement, codepoint)
				if mapped == 0 {
					res.setFlag(FlagPathEncodedNUL, policy.NULEncodedUnwantedStatus)
					if policy.NULEncodedTerminates {
						res.truncated = true
						return w
					}
				}
				emit(mapped)
				r += 6
				continue
			}

			// %HH 编码
			if r+2 < len(path) && isHex(path[r+1]) && isHex(path[r+2]) {
				decoded := x2c(path[r+1], path[r+2])

				if decoded == 0 {
					res.setFlag(FlagPathEncodedNUL, policy.NULEncodedUnwantedStatus)
					if policy.NULEncodedTerminates {
						res.truncated = true
						return w
					}
				}

				isSepByte := decoded == '/' || (policy.BackslashSeparators && decoded == '\\')
				if isSepByte {
					res.setFlag(FlagPathEncodedSeparator, policy.EncodedSeparatorsUnwantedStatus)
					if !policy.EncodedSeparatorsDecode {
						// 保留编码形式：只把 '%' 当作字面字节交给 emit
						// 随后两个十六进制字符会在接下来的循环里分别
						// 当作字面字节再次经过 emit 与 htp_util.c 的
						// "c = '%'; rpos++;" 分支一致
						emit('%')
						r++
						continue
					}
				}

				emit(decoded)
				r += 3
				continue
			}

			// 非法/过短的编码
			res.setFlag(FlagPathInvalidEncoding, policy.InvalidEncodingUnwantedStatus)
			switch policy.InvalidEncodingHandling {
			case EncodingRemovePercent:
				r++
			case EncodingPreservePercent:
				emit(path[r])
				r++
			case EncodingProcessInvalid:
				if r+2 < len(path) {
					emit(x2c(path[r+1], path[r+2]))
					r += 3
				} else {
					emit(path[r])
					r++
				}
			}
			continue

		case c == 0:
			res.setFlag(FlagPathRawNUL, policy.NULRawUnwantedStatus)
			if policy.NULRawTerminates {
				res.truncated = true
				return w
			}
			emit(c)
			r++
			continue

		case c < 0x20:
			res.setFlag(FlagPathControlChar, policy.ControlCharsUnwantedStatus)
			emit(c)
			r++
			continue

		default:
			emit(c)
			r++
		}
	}

	return w
}

// utf8DecodePath 对 path[:n] 做兼容过长编码的 UTF-8 DFA 解码
//
// 对应 htp_utf8_decode_path_inplace / htp_utf8_validate_path。
// ACCEPT 态下把多字节序列映射为单个 best-fit 字节（UTF8Convert 为 false 时
// 原样保留该序列 只记录标记）；REJECT 态下原样拷贝非法字节并重置状态机
func utf8DecodePath(path []byte, n int, policy PathPolicy, bestfit map[uint16]byte, replacement byte, res *decodeResult) int {
	w := 0
	r := 0
	anyValid := false
	anyInvalid := false

	put := func(cp uint32, size int) {
		if policy.UTF8Convert {
			path[w] = bestFitCodepoint(bestfit, replacement, cp)
			w++
		} else {
			w += copy(path[w:], path[r:r+size])
		}
	}

	for r < n {
		c := path[r]
		switch {
		case c < 0x80:
			path[w] = c
			w++
			r++

		case c&0xE0 == 0xC0 && r+1 < n && path[r+1]&0xC0 == 0x80:
			cp := (uint32(c&0x1F) << 6) | uint32(path[r+1]&0x3F)
			if cp < 0x80 {
				res.setFlag(FlagPathUTF8Overlong, 0)
			}
			if isHalfFullRangeCodepoint(cp) {
				res.setFlag(FlagPathHalfFullRange, 0)
			}
			put(cp, 2)
			r += 2
			anyValid = true

		case c&0xF0 == 0xE0 && r+2 < n && path[r+1]&0xC0 == 0x80 && path[r+2]&0xC0 == 0x80:
			cp := (uint32(c&0x0F) << 12) | (uint32(path[r+1]&0x3F) << 6) | uint32(path[r+2]&0x3F)
			if cp < 0x800 {
				res.setFlag(FlagPathUTF8Overlong, 0)
			}
			if isHalfFullRangeCodepoint(cp) {
				res.setFlag(FlagPathHalfFullRange, 0)
			}
			put(cp, 3)
			r += 3
			anyValid = true

		case c&0xF8 == 0xF0 && r+3 < n && path[r+1]&0xC0 == 0x80 && path[r+2]&0xC0 == 0x80 && path[r+3]&0xC0 == 0x80:
			cp := (uint32(c&0x07) << 18) | (uint32(path[r+1]&0x3F) << 12) | (uint32(path[r+2]&0x3F) << 6) | uint32(path[r+3]&0x3F)
			if cp < 0x10000 {
				res.setFlag(FlagPathUTF8Overlong, 0)
			}
			if isHalfFullRangeCodepoint(cp) {
				res.setFlag(FlagPathHalfFullRange, 0)
			}
			put(cp, 4)
			r += 4
			anyValid = true

		default:
			res.setFlag(FlagPathUTF8Invalid, policy.UTF8InvalidUnwantedStatus)
			anyInvalid = true
			path[w] = c
			w++
			r++
		}
	}

	if anyValid && !anyInvalid {
		res.setFlag(FlagPathUTF8Valid, 0)
	}
	res.sawValidU8 = anyValid
	res.sawBadU8 = anyInvalid
	return w
}

// removeDotSegments 是 RFC 3986 §5.2.4 的一次性原地改写
//
// 对应 htp_normalize_uri_path_inplace。消除 "./" "../" 前缀、把 "/./"
// 替换为 "/"、把 "/../" 替换为 "/" 同时弹出上一个已写入的 segment、并移除
// 末尾的 "." 或 ".." segment
func removeDotSegments(path []byte, n int) int {
	in := path[:n]
	r := 0
	w := 0

	has := func(s string) bool {
		if r+len(s) > len(in) {
			return false
		}
		for i := 0; i < len(s); i++ {
			if in[r+i] != s[i] {
				return false
			}
		}
		return true
	}
	isExactly := func(s string) bool {
		return r+len(s) == len(in) && has(s)
	}

	for r < len(in) {
		switch {
		case has("../"):
			r += 3
		case has("./"):
			r += 2
		case has("/./"):
			r += 2 // leaves the second '/' to be reprocessed
		case isExactly("/."):
			in[w] = '/'
			w++
			r = len(in)
		case has("/../"):
			w = popSegment(in, w)
			r += 3 // leaves the second '/' to be reprocessed
		case isExactly("/.."):
			w = popSegment(in, w)
			in[w] = '/'
			w++
			r = len(in)
		case isExactly("."), isExactly(".."):
			r = len(in)
		default:
			next := nextSegmentEnd(in, r)
			w = copySeg(in, w, in[r:next])
			r = next
		}
	}

	return w
}

// nextSegmentEnd 返回从 r 开始的下一个 path segment（含前导 '/'，若存在）的终止下标
func nextSegmentEnd(in []byte, r int) int {
	end := r + 1
	for end < len(in) && in[end] != '/' {
		end++
	}
	return end
}

// copySeg 把 src 拷贝到 in[w:] 处（src 总是已经在 in 内 r>=w 的位置，按字节
// 顺序拷贝是安全的），返回新的 w
func copySeg(in []byte, w int, src []byte) int {
	n := copy(in[w:], src)
	return w + n
}

// popSegment 删除 path[:w] 中最后一个已写入的 "/segment"，返回新的 w
func popSegment(path []byte, w int) int {
	if w == 0 {
		return 0
	}
	i := w - 1
	for i > 0 && path[i-1] != '/' {
		i--
	}
	if i > 0 {
		i--
	}
	return i
}
