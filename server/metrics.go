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

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/htpguard/htpguard/common"
	"github.com/htpguard/htpguard/protocol/phttp"
)

// 教师仓库的 controller/metrics.go 在 controller 层维护 promauto 指标并由
// setupServer() 注册 /metrics 路由 这里把同样的写法搬到 server 包 因为本仓库
// 没有 controller 这一层 指标只覆盖解析器可见的内容（事务数 异常标记 body
// 字节数）Sniffer 接口没有 Stats() 方法 因此没有抓包层的丢包/收包计数

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "phttp",
		Name:      "transactions_total",
		Help:      "HTTP 事务按完成状态统计的总数",
	}, []string{"status"})

	anomalyFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "phttp",
		Name:      "anomaly_flags_total",
		Help:      "按异常标记类型统计的触发次数",
	}, []string{"flag"})

	bodyBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "phttp",
		Name:      "body_bytes_total",
		Help:      "按方向统计的请求/响应 body 字节数",
	}, []string{"direction"})
)

// namedFlags 列出所有具名异常标记及其指标标签
//
// flags.go 中的 Flags 没有 String() 方法 标签名在此单独维护
var namedFlags = []struct {
	flag  phttp.Flags
	label string
}{
	{phttp.FlagInvalidFolding, "invalid_folding"},
	{phttp.FlagPathOverlongU, "path_overlong_u"},
	{phttp.FlagPathHalfFullRange, "path_half_full_range"},
	{phttp.FlagPathEncodedNUL, "path_encoded_nul"},
	{phttp.FlagPathRawNUL, "path_raw_nul"},
	{phttp.FlagPathEncodedSeparator, "path_encoded_separator"},
	{phttp.FlagPathInvalidEncoding, "path_invalid_encoding"},
	{phttp.FlagPathControlChar, "path_control_char"},
	{phttp.FlagPathUTF8Valid, "path_utf8_valid"},
	{phttp.FlagPathUTF8Invalid, "path_utf8_invalid"},
	{phttp.FlagPathUTF8Overlong, "path_utf8_overlong"},
	{phttp.FlagPathUnicodeSeen, "path_unicode_seen"},
	{phttp.FlagHostnameInvalid, "hostname_invalid"},
}

// RecordTransaction 把一次已完成事务的统计计入 promauto 指标
//
// 供 cmd/ 在消费 roundtrip channel 中已完成事务时调用
func RecordTransaction(tx *phttp.Transaction) {
	status := "clean"
	if tx.Flags != 0 {
		status = "anomalous"
	}
	transactionsTotal.WithLabelValues(status).Inc()

	for _, nf := range namedFlags {
		if tx.Flags.Has(nf.flag) {
			anomalyFlagsTotal.WithLabelValues(nf.label).Inc()
		}
	}
}

// RecordBodyBytes 供 cmd/ 在 Hooks.OnRequestBodyData 回调里调用
func RecordBodyBytes(dir phttp.Direction, n int) {
	direction := "response"
	if dir == phttp.DirInbound {
		direction = "request"
	}
	bodyBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RegisterMetricsRoute 挂载 /metrics 路由 暴露上述 promauto 指标
func (s *Server) RegisterMetricsRoute() {
	s.RegisterGetRoute("/metrics", promhttp.Handler().ServeHTTP)
}
