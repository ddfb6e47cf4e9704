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

import "bytes"

// DecodeFormBody 拆分并解码 application/x-www-form-urlencoded 请求体
//
// 对应 SPEC_FULL.md §12 对 params_* 策略的补充说明：每个 key/value 在
// '+' 还原为空格后经过 decodePath（百分号解码与各项策略），使用 cfg.Params
// 而非 cfg.Path 的策略；不做 UTF-8 解码与点段（. / ..）消除
func DecodeFormBody(cfg *Config, body []byte, res *decodeResult) map[string][]string {
	out := make(map[string][]string)
	bestfit := cfg.bestFitMap()

	for _, pair := range bytes.Split(body, []byte("&")) {
		if len(pair) == 0 {
			continue
		}
		var key, value []byte
		if i := bytes.IndexByte(pair, '='); i >= 0 {
			key, value = pair[:i], pair[i+1:]
		} else {
			key = pair
		}

		key = decodeFormValue(cfg, bestfit, key, res)
		value = decodeFormValue(cfg, bestfit, value, res)
		k := string(key)
		out[k] = append(out[k], string(value))
	}
	return out
}

func decodeFormValue(cfg *Config, bestfit map[uint16]byte, v []byte, res *decodeResult) []byte {
	buf := append([]byte{}, v...)
	for i := range buf {
		if buf[i] == '+' {
			buf[i] = ' '
		}
	}
	n := decodePath(buf, cfg.Params, bestfit, cfg.BestFitReplacementChar, res)
	return buf[:n]
}
