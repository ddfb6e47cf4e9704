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
	"fmt"
	"path/filepath"
	"runtime"
)

// Personality 控制行终止符的容忍策略以及"可忽略行"的判定
//
// 对应原始实现中的多种 server personality 在本仓库中只迁移了影响
// REQ_LINE 阶段行为的部分
type Personality int

const (
	// PersonalityMinimal 与 Generic 行为相同 空行被视为可忽略行
	PersonalityMinimal Personality = iota

	// PersonalityGeneric 通用 容忍空行
	PersonalityGeneric

	// PersonalityIIS51 在空行之外 还把纯空白行（空格/Tab）视为可忽略行
	PersonalityIIS51

	// PersonalityApache2 与 Generic 行为相同 折叠行的处理也没有区别
	PersonalityApache2
)

// EncodingHandling 控制非法 %HH 编码的处理策略
type EncodingHandling int

const (
	// EncodingRemovePercent 丢弃 % 本身 保留后续字节原样输出
	EncodingRemovePercent EncodingHandling = iota

	// EncodingPreservePercent 保留 % 不做任何解码 向后移动一个字节
	EncodingPreservePercent

	// EncodingProcessInvalid 即使不是合法的十六进制也尝试解码
	EncodingProcessInvalid
)

// PathPolicy 描述一组路径（或 query/body 参数）的解码策略
//
// Config 中 Path 与 Params 各持有一份 对应 spec 中 path_* / params_* 两组
// 互为镜像的配置项
type PathPolicy struct {
	// UDecodingEnabled 是否解析 %uXXXX 编码
	UDecodingEnabled bool

	// UEncodingUnwantedStatus 命中 %u 编码时设置的期望响应状态码 0 表示不设置
	UEncodingUnwantedStatus int

	// BackslashSeparators 是否将 \ 视为路径分隔符并重写为 /
	BackslashSeparators bool

	// CaseInsensitive 是否将路径统一转为小写
	CaseInsensitive bool

	// CompressSeparators 是否将连续的 / 压缩为一个
	CompressSeparators bool

	// EncodedSeparatorsDecode 是否将 %2F（或 %5C）解码为实际分隔符
	EncodedSeparatorsDecode bool

	// EncodedSeparatorsUnwantedStatus 命中编码分隔符时设置的期望响应状态码
	EncodedSeparatorsUnwantedStatus int

	// NULRawTerminates 遇到原始 NUL 是否截断路径
	NULRawTerminates bool

	// NULEncodedTerminates 遇到编码后的 NUL（%00 / %u0000）是否截断路径
	NULEncodedTerminates bool

	// NULRawUnwantedStatus 命中原始 NUL 时设置的期望响应状态码
	NULRawUnwantedStatus int

	// NULEncodedUnwantedStatus 命中编码 NUL 时设置的期望响应状态码
	NULEncodedUnwantedStatus int

	// InvalidEncodingHandling 非法 %HH 编码的处理策略
	InvalidEncodingHandling EncodingHandling

	// InvalidEncodingUnwantedStatus 命中非法编码时设置的期望响应状态码
	InvalidEncodingUnwantedStatus int

	// ControlCharsUnwantedStatus 命中 < 0x20 控制字符时设置的期望响应状态码
	ControlCharsUnwantedStatus int

	// UTF8Convert 是否对 UTF-8 序列做 best-fit 解码 false 时仅做合法性校验
	UTF8Convert bool

	// UTF8InvalidUnwantedStatus 命中非法 UTF-8 时设置的期望响应状态码
	UTF8InvalidUnwantedStatus int

	// UnicodeUnwantedStatus 只要发生过一次 %u 解码（无论是否合法）就设置的期望响应状态码
	UnicodeUnwantedStatus int
}

// DefaultPathPolicy 返回一份宽松的默认策略 与原始实现的默认行为一致
func DefaultPathPolicy() PathPolicy {
	return PathPolicy{
		UDecodingEnabled:        false,
		BackslashSeparators:     false,
		CaseInsensitive:         false,
		CompressSeparators:      false,
		EncodedSeparatorsDecode: false,
		InvalidEncodingHandling: EncodingPreservePercent,
		UTF8Convert:             true,
	}
}

// Config 是 phttp 引擎的配置项 对应 spec 中 §6 的配置选项表
//
// 使用 `config:"..."` tag 是为了能够被 confengine（elastic/go-ucfg）直接
// Unpack 到本结构体 与 sniffer.Config / server.Config 的加载方式保持一致
type Config struct {
	// Personality 服务端行为容忍策略
	Personality Personality `config:"serverPersonality"`

	// Path 请求路径的解码/规范化策略
	Path PathPolicy `config:"path"`

	// Params 请求 query 与 body 参数（x-www-form-urlencoded）的解码策略
	Params PathPolicy `config:"params"`

	// BestFitMap 非 ASCII best-fit 映射表 为空时使用 DefaultBestFitMap
	BestFitMap map[uint16]byte `config:"-"`

	// BestFitReplacementChar best-fit 映射未命中时使用的替换字节
	BestFitReplacementChar byte `config:"bestfitReplacementChar"`

	// MaxLineSize 单行（请求行/头部行）累积的最大字节数 超出部分被截断
	// 而非拒绝整个连接 与核心"宽容"设计保持一致
	MaxLineSize int `config:"maxLineSize"`

	// StrictChunkedDataEnd 是否要求 CHUNKED_DATA_END 只能是 CRLF
	//
	// 开放问题 1 的决议：保留原始实现的宽容行为作为默认值（false）
	StrictChunkedDataEnd bool `config:"strictChunkedDataEnd"`

	// Hooks 事件回调
	Hooks Hooks `config:"-"`
}

// DefaultConfig 返回一份可直接使用的默认配置
func DefaultConfig() *Config {
	return &Config{
		Personality:            PersonalityGeneric,
		Path:                   DefaultPathPolicy(),
		Params:                 DefaultPathPolicy(),
		BestFitReplacementChar: '?',
		MaxLineSize:            8192,
	}
}

func (c *Config) bestFitMap() map[uint16]byte {
	if c.BestFitMap != nil {
		return c.BestFitMap
	}
	return DefaultBestFitMap
}

// Hooks 是 spec 中 hook_request_body_data / hook_log 的 Go 化表达
//
// 核心包本身不持有任何订阅者 由调用方（cmd/）负责把这两个回调接到
// internal/pubsub 或 logger 上
type Hooks struct {
	// OnRequestBodyData 每当有一段 body 数据被确认时触发
	//
	// 同一个事务的多次调用按字节顺序覆盖完整的 body 恰好一次
	OnRequestBodyData func(tx *Transaction, dir Direction, data []byte)

	// OnLog 每当核心产生一条日志事件时触发
	OnLog func(level LogLevel, file string, line int, code int, msg string)
}

func (h Hooks) logf(level LogLevel, code int, format string, args ...any) {
	if h.OnLog == nil {
		return
	}
	// 调用链为 emit 点 → Conn.logf → Hooks.logf 取 emit 点的文件与行号
	_, file, line, _ := runtime.Caller(2)
	h.OnLog(level, filepath.Base(file), line, code, fmt.Sprintf(format, args...))
}

// LogLevel 日志级别 与 logger 包的级别含义保持一致
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)
