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

import "strconv"

// URI 是从请求目标（request-target）字节串中拆分出的结构化视图
//
// SplitURI 只做游标扫描 不做任何百分号解码 解码由 decodePath 等函数
// （§4.7 对应实现，见 decode.go）在之后的阶段完成
type URI struct {
	Scheme   string
	Username string
	Password string
	Host     string
	PortRaw  string
	Port     int // -1 表示未指定或非法

	Path     string
	RawPath  []byte // 归一化之前的原始路径字节 供解码器原地改写
	Query    string
	Fragment string
}

// SplitURI 将原始请求目标字节串拆分为结构化的 URI
//
// 对应 spec §4.6，单次正向扫描：
//  1. 若首字节不是 '/'，向后找 ':' 作为 scheme；找不到则整个输入当作 path
//  2. 若存在 scheme 且紧随 "//" 且第三个字节不是 '/'，解析 authority
//  3. path 是直到下一个 '?' 或 '#' 的切片
//  4. query 在 '?' 之后、'#' 之前
//  5. fragment 在 '#' 之后
func SplitURI(raw []byte) *URI {
	u := &URI{Port: -1}
	rest := raw

	if len(rest) > 0 && rest[0] != '/' {
		if i := indexByte(rest, ':'); i >= 0 {
			u.Scheme = string(rest[:i])
			rest = rest[i+1:]
		}
	}

	if u.Scheme != "" && len(rest) >= 2 && rest[0] == '/' && rest[1] == '/' &&
		(len(rest) < 3 || rest[2] != '/') {
		rest = rest[2:]
		end := len(rest)
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case '?', '/', '#':
				if i < end {
					end = i
				}
			}
		}
		authority := rest[:end]
		rest = rest[end:]

		hostport := authority
		if at := lastIndexByte(authority, '@'); at >= 0 {
			creds := authority[:at]
			hostport = authority[at+1:]
			if c := indexByte(creds, ':'); c >= 0 {
				u.Username = string(creds[:c])
				u.Password = string(creds[c+1:])
			} else {
				u.Username = string(creds)
			}
		}
		if c := lastIndexByte(hostport, ':'); c >= 0 {
			u.Host = string(hostport[:c])
			u.PortRaw = string(hostport[c+1:])
			if p, err := strconv.Atoi(u.PortRaw); err == nil {
				u.Port = p
			}
		} else {
			u.Host = string(hostport)
		}
	}

	pathEnd := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '?' || rest[i] == '#' {
			pathEnd = i
			break
		}
	}
	u.RawPath = append([]byte{}, rest[:pathEnd]...)
	u.Path = string(u.RawPath)
	rest = rest[pathEnd:]

	if len(rest) > 0 && rest[0] == '?' {
		rest = rest[1:]
		end := len(rest)
		for i := 0; i < len(rest); i++ {
			if rest[i] == '#' {
				end = i
				break
			}
		}
		u.Query = string(rest[:end])
		rest = rest[end:]
	}

	if len(rest) > 0 && rest[0] == '#' {
		u.Fragment = string(rest[1:])
	}

	return u
}

func indexByte(b []byte, c byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(b []byte, c byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == c {
			return i
		}
	}
	return -1
}
