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
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectTx(cfg *Config) (*Conn, *[]*Transaction) {
	var done []*Transaction
	c := NewConn(cfg)
	c.OnComplete(func(tx *Transaction) {
		done = append(done, tx)
	})
	return c, &done
}

// TestIdentityBody 覆盖 spec §8 场景一：Content-Length 标识的请求体与响应体
func TestIdentityBody(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello")
	status, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	res := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	status, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	require.Len(t, *done, 1)
	tx := (*done)[0]
	assert.Equal(t, "POST", tx.Method)
	assert.Equal(t, 200, tx.ResStatus)
	assert.Equal(t, ProgressResComplete, tx.Progress)
}

// TestChunkedWithTrailer 覆盖 spec §8 场景二：chunked 编码的响应体 + trailer 头
func TestChunkedWithTrailer(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	_, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)

	res := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\nX-Trailer: done\r\n\r\n")
	status, err := c.Feed(DirOutbound, now, res)
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	require.Len(t, *done, 1)
	tx := (*done)[0]
	assert.Equal(t, TransferChunked, tx.ResTransferCoding)
	found := false
	for _, h := range tx.ResHeaders {
		if h.Name == "X-Trailer" {
			found = true
		}
	}
	assert.True(t, found, "trailer header must be merged into ResHeaders")
}

// TestChunkSplitAcrossFeeds 覆盖 spec §8 场景四：chunk 大小行被拆分到两次 Feed
func TestChunkSplitAcrossFeeds(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("POST /x HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n")
	_, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)

	var bodyGot []byte
	c.cfg.Hooks.OnRequestBodyData = func(tx *Transaction, dir Direction, data []byte) {
		if dir == DirInbound {
			bodyGot = append(bodyGot, data...)
		}
	}

	// 把 chunk-size 行 "5\r\n" 拆成两次 feed
	status, err := c.Feed(DirInbound, now, []byte("5"))
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	status, err = c.Feed(DirInbound, now, []byte("\r\nhello\r\n0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	assert.Equal(t, "hello", string(bodyGot))

	res := []byte("HTTP/1.1 204 No Content\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)
	require.Len(t, *done, 1)
}

// TestConnectTunnel 覆盖 spec §8 场景三：CONNECT 握手建立隧道
//
// CONNECT 请求头部恰好消费掉当前 chunk 的全部字节 因此驱动器按 §4.5 的
// 规则把 DATA_OTHER 折算为 DATA（curFor(dir).eof() 为真）；隧道是否建立
// 只有在下一次喂入 inbound 数据、reqConnectWaitResponse 重新检查事务进度
// 时才会被观察到并切换两个方向的流状态
func TestConnectTunnel(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	status, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	res := []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
	status, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	require.Len(t, *done, 1)
	assert.Equal(t, "CONNECT", (*done)[0].Method)
	assert.Equal(t, 200, (*done)[0].ResStatus)

	// 隧道只在 inbound 再次被喂入数据、观察到响应已越过 RES_LINE 之后建立
	status, err = c.Feed(DirInbound, now, []byte("opaque tls bytes"))
	require.NoError(t, err)
	assert.Equal(t, StatusTunnel, status)
	assert.True(t, c.tunnelEstablished)
}

// TestConnectRejected 覆盖 CONNECT 握手被拒绝（非 2xx）时不建立隧道
func TestConnectRejected(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	status, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)

	res := []byte("HTTP/1.1 403 Forbidden\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)
	require.Len(t, *done, 1)

	status, err = c.Feed(DirInbound, now, []byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusData, status)
	assert.False(t, c.tunnelEstablished)
}

// TestFoldedHeaderWithoutPrevious 覆盖 spec §8 场景五：折叠行前没有任何已提交的头部
func TestFoldedHeaderWithoutPrevious(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("GET / HTTP/1.1\r\n   folded-without-header\r\nHost: example.com\r\n\r\n")
	_, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)

	res := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)

	require.Len(t, *done, 1)
	tx := (*done)[0]
	assert.True(t, tx.Flags.Has(FlagInvalidFolding))
}

// TestFormURLEncodedBodyParams 覆盖 SPEC_FULL.md §12 的补充：
// application/x-www-form-urlencoded 请求体按 key=value 拆分并解码后
// 填充进 Transaction.ReqParams
func TestFormURLEncodedBodyParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.EncodedSeparatorsDecode = true
	c, done := collectTx(cfg)
	now := time.Now()

	body := "a=1&b=hello+world&c%2Fd=e"
	req := []byte("POST /submit HTTP/1.1\r\nHost: example.com\r\n" +
		"Content-Type: application/x-www-form-urlencoded; charset=utf-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body)
	_, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)

	res := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)

	require.Len(t, *done, 1)
	tx := (*done)[0]
	require.NotNil(t, tx.ReqParams)
	assert.Equal(t, []string{"1"}, tx.ReqParams["a"])
	assert.Equal(t, []string{"hello world"}, tx.ReqParams["b"])
	assert.Equal(t, []string{"e"}, tx.ReqParams["c/d"])
}

// TestNonFormBodyLeavesReqParamsNil 确认非表单请求体不会被缓冲或解析
func TestNonFormBodyLeavesReqParamsNil(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	req := []byte("POST /upload HTTP/1.1\r\nHost: example.com\r\n" +
		"Content-Type: application/json\r\nContent-Length: 2\r\n\r\n{}")
	_, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)

	res := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)

	require.Len(t, *done, 1)
	assert.Nil(t, (*done)[0].ReqParams)
}

// TestReqQueryParamsDecoded 覆盖请求目标里查询串的拆分/解码
func TestReqQueryParamsDecoded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.EncodedSeparatorsDecode = true
	c, done := collectTx(cfg)
	now := time.Now()

	req := []byte("GET /search?q=a+b&tag=x%2Fy HTTP/1.1\r\nHost: example.com\r\n\r\n")
	_, err := c.Feed(DirInbound, now, req)
	require.NoError(t, err)

	res := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)

	require.Len(t, *done, 1)
	tx := (*done)[0]
	assert.Equal(t, []string{"a b"}, tx.ReqQueryParams["q"])
	assert.Equal(t, []string{"x/y"}, tx.ReqQueryParams["tag"])
}

// TestPipelinedRequests 验证两个管线化请求能按 FIFO 顺序正确配对
func TestPipelinedRequests(t *testing.T) {
	c, done := collectTx(DefaultConfig())
	now := time.Now()

	reqs := []byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n" + "GET /b HTTP/1.1\r\nHost: h\r\n\r\n")
	_, err := c.Feed(DirInbound, now, reqs)
	require.NoError(t, err)

	res := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n" + "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	_, err = c.Feed(DirOutbound, now, res)
	require.NoError(t, err)

	require.Len(t, *done, 2)
	assert.Equal(t, "/a", (*done)[0].URI.Path)
	assert.Equal(t, 200, (*done)[0].ResStatus)
	assert.Equal(t, "/b", (*done)[1].URI.Path)
	assert.Equal(t, 404, (*done)[1].ResStatus)
}
