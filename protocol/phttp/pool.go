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
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/htpguard/htpguard/common/socket"
	"github.com/htpguard/htpguard/connstream"
	"github.com/htpguard/htpguard/internal/zerocopy"
	"github.com/htpguard/htpguard/protocol"
)

func init() {
	protocol.Register(socket.L7ProtoHTTP, func() protocol.ConnPool {
		return NewConnPool(DefaultConfig())
	})
}

// NewConnPool 构造 HTTP 的 protocol.ConnPool
//
// 与 protocol.NewL7TCPConnPool 不同：请求/响应的配对并不依赖
// protocol/role.Matcher 对两个独立 Decoder 产物的归并，而是直接复用
// *Conn 自身的 txQueue（参见 connparser.go），因为 HTTP 流水线语义本身
// 就需要一个贯穿两个方向的共享状态机，比"各自独立 decode 再配对"更贴切
func NewConnPool(cfg *Config) protocol.ConnPool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return protocol.NewConnPool(
		socket.L4ProtoTCP,
		func(st socket.Tuple, serverPort socket.Port) protocol.Conn {
			return newHTTPConn(cfg, st, serverPort)
		},
		socket.NewTTLCache(socket.TCPMsl*2),
	)
}

// httpConn 把一个 *Conn（request/response 状态机）适配成 protocol.Conn
//
// 一条 TCP 连接只持有一个 *Conn 实例 两个方向的 socket.Tuple 共享它
// 这正是 CONNECT 隧道握手（§4.4）需要在两个方向间观察 Transaction.Progress
// 的前提
type httpConn struct {
	mut sync.Mutex

	conn       *connstream.Conn
	hc         *Conn
	serverPort socket.Port

	curCh chan<- socket.RoundTrip

	freeOnce sync.Once
}

func newHTTPConn(cfg *Config, st socket.Tuple, serverPort socket.Port) *httpConn {
	c := &httpConn{
		conn:       connstream.NewConn(st, connstream.NewTCPStream),
		hc:         NewConn(cfg),
		serverPort: serverPort,
	}
	c.hc.OnComplete(func(tx *Transaction) {
		if c.curCh != nil && tx.Validate() {
			c.curCh <- tx
		}
	})
	return c
}

// OnL4Packet 实现 protocol.Conn
//
// 按 pkt 所属方向把其载荷喂给共享的 *Conn；一次 Write 可能因为
// chunkWriter 按 CRLF 边界切分而触发多次回调 每次回调都是一次独立
// 的 Feed 调用 这正是 spec §4.1 resumability 不变式要验证的场景
func (c *httpConn) OnL4Packet(pkt socket.L4Packet, ch chan<- socket.RoundTrip) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	dir := DirOutbound
	if pkt.SocketTuple().DstPort == c.serverPort {
		dir = DirInbound
	}

	c.curCh = ch
	err := c.conn.Write(pkt, func(r zerocopy.Reader) {
		data, rerr := drainZeroCopy(r)
		if len(data) == 0 && rerr != nil {
			return
		}
		if _, ferr := c.hc.Feed(dir, pkt.ArrivedTime(), data); ferr != nil {
			c.hc.logf(LogWarn, 5, "feed error on %s: %v", st(dir), ferr)
		}
	})
	c.curCh = nil

	if errors.Is(err, connstream.ErrClosed) {
		return protocol.ErrConnClosed
	}
	return err
}

func st(dir Direction) string {
	if dir == DirInbound {
		return "inbound"
	}
	return "outbound"
}

// drainZeroCopy 把一个 zerocopy.Reader 中当前可读的数据整体读出
//
// chunkWriter 每次回调传入的 Buffer 只包含一个切片好的 chunk 通常一次
// Read 即可读完 但仍按 io.EOF 循环以兼容任意大小的底层实现
func drainZeroCopy(r zerocopy.Reader) ([]byte, error) {
	var out []byte
	for {
		b, err := r.Read(1 << 20)
		if len(b) > 0 {
			out = append(out, b...)
		}
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		if len(b) == 0 {
			return out, nil
		}
	}
}

// Stats 实现 protocol.Conn
func (c *httpConn) Stats() []connstream.TupleStats {
	return c.conn.Stats()
}

// Free 实现 protocol.Conn
func (c *httpConn) Free() {
	c.freeOnce.Do(func() {})
}

// IsClosed 实现 protocol.Conn
func (c *httpConn) IsClosed() bool {
	return c.conn.IsClosed()
}

// ActiveAt 实现 protocol.Conn
func (c *httpConn) ActiveAt() time.Time {
	return c.conn.ActiveAt()
}
