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
	"time"
)

// Conn 是 spec §3 "Connection parser" 的实现
//
// 持有配置、两个方向各自的状态机（req/res）、共享的事务队列（处理管线化
// 请求的 FIFO 配对）、流状态，并暴露 Feed() 作为唯一入口
type Conn struct {
	cfg *Config

	req *reqParser
	res *resParser

	// txQueue 保存已开始但响应尚未完成的事务 按到达顺序排列
	// 请求侧总是操作队尾新建的事务 响应侧总是操作队首事务
	txQueue []*Transaction
	reqTx   *Transaction // 当前正在解析的请求（可能尚未入队）

	inStatus  StreamStatus
	outStatus StreamStatus

	tunnelEstablished bool

	lastError error

	onComplete func(tx *Transaction)
}

// NewConn 创建一个新的连接解析器
func NewConn(cfg *Config) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Conn{
		cfg:      cfg,
		req:      newReqParser(cfg),
		res:      newResParser(cfg),
		inStatus: StatusNew,
		outStatus: StatusNew,
	}
}

// OnComplete 注册一个事务完成（请求+响应都结束）时触发的回调
func (c *Conn) OnComplete(fn func(tx *Transaction)) {
	c.onComplete = fn
}

// Feed 是 spec §4.1 描述的唯一入口：feed(direction, timestamp, bytes) → stream_status
//
// 零长度 feed 代表 EOS；此时调用方必须已经把对应方向的状态置为 CLOSED
func (c *Conn) Feed(dir Direction, t time.Time, data []byte) (StreamStatus, error) {
	status := c.statusFor(dir)

	if status == StatusStop || status == StatusError {
		return status, c.lastError
	}

	if len(data) == 0 {
		if status != StatusClosed {
			return status, fmt.Errorf("zero-length feed on non-CLOSED stream")
		}
		return c.drainFinalize(dir, t)
	}

	if status == StatusTunnel {
		// TUNNEL 建立之后的数据只计数不解析
		if dir == DirInbound {
			c.req.cur.install(data, t)
			c.req.cur.consume(len(data))
		} else {
			c.res.cur.install(data, t)
			c.res.cur.consume(len(data))
		}
		return StatusTunnel, nil
	}

	if status == StatusNew {
		status = StatusOpen
	}

	var cur *cursor
	if dir == DirInbound {
		cur = &c.req.cur
	} else {
		cur = &c.res.cur
	}
	cur.install(data, t)

	return c.drive(dir)
}

func (c *Conn) drive(dir Direction) (StreamStatus, error) {
	for {
		var res stepResult
		if dir == DirInbound {
			res = c.req.state(c)
		} else {
			res = c.res.state(c)
		}

		switch res {
		case stepOK:
			if c.tunnelEstablished {
				c.inStatus = StatusTunnel
				c.outStatus = StatusTunnel
				// 隧道建立这一刻 当前 chunk 中尚未处理的剩余字节不再按 HTTP
				// 语法解析 直接计入隧道字节计数 对应 Feed() 对 TUNNEL 状态
				// 的处理方式
				cur := c.curFor(dir)
				cur.consume(len(cur.remaining()))
				return StatusTunnel, nil
			}
			continue

		case stepData:
			c.setStatus(dir, StatusData)
			return StatusData, nil

		case stepDataOther:
			cur := c.curFor(dir)
			if cur.eof() {
				c.setStatus(dir, StatusData)
				return StatusData, nil
			}
			c.setStatus(dir, StatusDataOther)
			return StatusDataOther, nil

		case stepStop:
			c.setStatus(dir, StatusStop)
			return StatusStop, nil

		default:
			c.setStatus(dir, StatusError)
			return StatusError, c.lastError
		}
	}
}

func (c *Conn) curFor(dir Direction) *cursor {
	if dir == DirInbound {
		return &c.req.cur
	}
	return &c.res.cur
}

func (c *Conn) statusFor(dir Direction) StreamStatus {
	if dir == DirInbound {
		return c.inStatus
	}
	return c.outStatus
}

func (c *Conn) setStatus(dir Direction, s StreamStatus) {
	if dir == DirInbound {
		c.inStatus = s
	} else {
		c.outStatus = s
	}
}

// Close 把某一方向标记为 CLOSED 以便下一次零长度 Feed 完成收尾
func (c *Conn) Close(dir Direction) {
	c.setStatus(dir, StatusClosed)
}

func (c *Conn) drainFinalize(dir Direction, t time.Time) (StreamStatus, error) {
	if dir == DirInbound && c.reqTx != nil && c.reqTx.Progress < ProgressReqComplete {
		if c.req.bodyDataLeft > 0 {
			c.logf(LogWarn, 2, "connection closed with %d bytes of declared body missing", c.req.bodyDataLeft)
		}
	}
	return c.statusFor(dir), nil
}

// Consumed 返回指定方向当前 chunk 已消费的偏移 对应 spec 的 consumed()
func (c *Conn) Consumed(dir Direction) int {
	return c.curFor(dir).consumed()
}

// beginRequest 在 REQ_LINE 完成时创建一个新事务并压入队列
func (c *Conn) beginRequest() *Transaction {
	tx := &Transaction{
		Progress:  ProgressStart,
		StartedAt: c.req.cur.at,
	}
	c.reqTx = tx
	c.txQueue = append(c.txQueue, tx)
	return tx
}

// finishRequest 请求侧完成后 把"当前请求"指针清空 让 req 状态机回到 IDLE
// 对应事务本身仍保留在 txQueue 中等待响应侧处理
func (c *Conn) finishRequest() {
	c.reqTx = nil
}

// headTx 返回响应侧应当处理的事务（队列最早的一个）
func (c *Conn) headTx() *Transaction {
	if len(c.txQueue) == 0 {
		return nil
	}
	return c.txQueue[0]
}

// completeHeadTx 响应完成后 把队首事务出队并触发完成回调
func (c *Conn) completeHeadTx() {
	if len(c.txQueue) == 0 {
		return
	}
	tx := c.txQueue[0]
	tx.CompletedAt = c.res.cur.at
	c.txQueue = c.txQueue[1:]
	if c.onComplete != nil {
		c.onComplete(tx)
	}
}

func (c *Conn) emitBodyData(tx *Transaction, dir Direction, data []byte) {
	if c.cfg.Hooks.OnRequestBodyData != nil {
		c.cfg.Hooks.OnRequestBodyData(tx, dir, data)
	}
}

func (c *Conn) logf(level LogLevel, code int, format string, args ...any) {
	c.cfg.Hooks.logf(level, code, format, args...)
}
