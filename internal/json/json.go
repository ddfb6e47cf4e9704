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

// Package json 统一了本仓库的 JSON 编解码入口
//
// 底层使用 goccy/go-json 替代标准库 encoding/json 以获得更好的性能
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Marshal 将 v 编码为 JSON 字节串
func Marshal(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent 将 v 编码为带缩进的 JSON 字节串
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal 将 JSON 字节串解码至 v
func Unmarshal(data []byte, v any) error {
	return gojson.Unmarshal(data, v)
}

// NewEncoder 返回一个向 w 写入 JSON 的 Encoder
func NewEncoder(w io.Writer) *gojson.Encoder {
	return gojson.NewEncoder(w)
}

// NewDecoder 返回一个从 r 读取 JSON 的 Decoder
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}
