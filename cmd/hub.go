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

package cmd

import (
	"time"

	"github.com/htpguard/htpguard/internal/pubsub"
	"github.com/htpguard/htpguard/logger"
	"github.com/htpguard/htpguard/protocol/phttp"
	"github.com/htpguard/htpguard/server"
)

// bodyDataEvent 对应 hook_request_body_data topic 的载荷
type bodyDataEvent struct {
	dir  phttp.Direction
	data []byte
}

// logEvent 对应 hook_log topic 的载荷
type logEvent struct {
	level phttp.LogLevel
	file  string
	line  int
	code  int
	msg   string
}

// hub 把 phttp.Hooks 的两个回调接到 internal/pubsub 之上
//
// 核心包自身不持有任何订阅者 这里负责创建默认的两个订阅者：日志转发到
// logger 指标计入 server 包的 promauto 计数器 多个订阅者可以同时存在
// 互不影响 这正是 internal/pubsub 相对于裸回调的价值所在
type hub struct {
	bodyData *pubsub.PubSub
	logs     *pubsub.PubSub

	done chan struct{}
}

func newHub() *hub {
	h := &hub{
		bodyData: pubsub.New(),
		logs:     pubsub.New(),
		done:     make(chan struct{}),
	}
	h.forwardBodyDataToMetrics()
	h.forwardLogsToLogger()
	return h
}

// hooks 返回可以直接挂到 phttp.Config.Hooks 上的回调集合
func (h *hub) hooks() phttp.Hooks {
	return phttp.Hooks{
		OnRequestBodyData: func(tx *phttp.Transaction, dir phttp.Direction, data []byte) {
			h.bodyData.Publish(bodyDataEvent{dir: dir, data: data})
		},
		OnLog: func(level phttp.LogLevel, file string, line int, code int, msg string) {
			h.logs.Publish(logEvent{level: level, file: file, line: line, code: code, msg: msg})
		},
	}
}

func (h *hub) forwardBodyDataToMetrics() {
	q := h.bodyData.Subscribe(256)
	go func() {
		defer h.bodyData.Unsubscribe(q)
		for {
			v, ok := q.PopTimeout(time.Second)
			if !ok {
				if h.stopped() {
					return
				}
				continue
			}
			ev := v.(bodyDataEvent)
			server.RecordBodyBytes(ev.dir, len(ev.data))
		}
	}()
}

func (h *hub) forwardLogsToLogger() {
	q := h.logs.Subscribe(256)
	go func() {
		defer h.logs.Unsubscribe(q)
		for {
			v, ok := q.PopTimeout(time.Second)
			if !ok {
				if h.stopped() {
					return
				}
				continue
			}
			ev := v.(logEvent)
			logLine(ev)
		}
	}()
}

func logLine(ev logEvent) {
	switch ev.level {
	case phttp.LogError:
		logger.Errorf("[%s:%d] (%d) %s", ev.file, ev.line, ev.code, ev.msg)
	case phttp.LogWarn:
		logger.Warnf("[%s:%d] (%d) %s", ev.file, ev.line, ev.code, ev.msg)
	case phttp.LogInfo:
		logger.Infof("[%s:%d] (%d) %s", ev.file, ev.line, ev.code, ev.msg)
	default:
		logger.Debugf("[%s:%d] (%d) %s", ev.file, ev.line, ev.code, ev.msg)
	}
}

func (h *hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Close 停止所有订阅者 goroutine
func (h *hub) Close() {
	close(h.done)
}
