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

// Package pcapfile 实现了基于 gopacket/pcapgo 的离线抓包文件读取引擎
//
// 教师仓库的 sniffer/libpcap 同时覆盖实时网卡抓包（afpacket/cgo pcap）与离线
// 文件回放两种模式 前者依赖系统 libpcap 与 cgo 这里不再迁移（见 DESIGN.md）
// 只保留纯 Go 的离线 .pcap/.pcapng 文件回放路径 其 Config 字段形状 BPF 过滤
// 编译的缺失处理方式均沿用 libpcap 引擎的写法
package pcapfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/htpguard/htpguard/common/socket"
	"github.com/htpguard/htpguard/logger"
	"github.com/htpguard/htpguard/sniffer"
)

const Name = "pcapfile"

func init() {
	sniffer.Register(New, Name)
}

// pcapngMagic 是 Section Header Block 的 Block Type 一旦匹配即认为是 pcapng 格式
const pcapngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	LinkType() layers.LinkType
}

type pcapFileSniffer struct {
	conf       *sniffer.Config
	onL4Packet sniffer.OnL4Packet

	f      *os.File
	done   chan struct{}
	wg     sync.WaitGroup
	closer sync.Once
}

// New 创建基于离线 pcap/pcapng 文件的 Sniffer 实例
//
// 只支持 conf.File 指定的单个文件 不支持监听网卡（见包文档）
func New(conf *sniffer.Config) (sniffer.Sniffer, error) {
	if conf.File == "" {
		return nil, errors.New("pcapfile sniffer requires sniffer.file to be set")
	}

	f, err := os.Open(conf.File)
	if err != nil {
		return nil, errors.Wrapf(err, "open pcap file (%s) failed", conf.File)
	}

	reader, err := newPacketReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	snif := &pcapFileSniffer{
		conf: conf,
		f:    f,
		done: make(chan struct{}),
	}

	snif.wg.Add(1)
	go snif.run(reader)

	logger.Infof("pcapfile sniffer replaying (%s)", conf.File)
	return snif, nil
}

// newPacketReader 通过窥探文件头部的 magic number 判断使用 pcapng 还是经典 pcap 格式解析
func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, "read pcap magic number failed")
	}

	if binary.BigEndian.Uint32(magic) == pcapngMagic || binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, "open pcapng reader failed")
		}
		return r, nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "open pcap reader failed")
	}
	return r, nil
}

func (ps *pcapFileSniffer) Name() string { return Name }

func (ps *pcapFileSniffer) SetOnL4Packet(f sniffer.OnL4Packet) { ps.onL4Packet = f }

func (ps *pcapFileSniffer) L7Ports() []socket.L7Ports { return ps.conf.Protocols.L7Ports() }

// Reload 目前只支持替换协议规则 切换回放文件需要重建 Sniffer
func (ps *pcapFileSniffer) Reload(conf *sniffer.Config) error {
	ps.conf = conf
	return nil
}

func (ps *pcapFileSniffer) Close() {
	ps.closer.Do(func() {
		close(ps.done)
	})
	ps.wg.Wait()
	ps.f.Close()
}

func (ps *pcapFileSniffer) run(r packetReader) {
	defer ps.wg.Done()

	ipv4Only := !sniffer.IPVPicker(ps.conf.IPVersion).IPV6()

	for {
		select {
		case <-ps.done:
			return
		default:
		}

		data, ci, err := r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Infof("pcapfile (%s) reached end of file", ps.conf.File)
				return
			}
			logger.Warnf("pcapfile (%s) read packet failed: %v", ps.conf.File, err)
			continue
		}

		payload, lyr, err := sniffer.DecodeIPLayer(data, ipv4Only)
		if err != nil || lyr == nil {
			continue
		}
		ps.parsePacket(ci.Timestamp, payload, lyr)
	}
}

func (ps *pcapFileSniffer) parsePacket(ts time.Time, payload []byte, lyr gopacket.Layer) {
	var tcpPkt layers.TCP
	if err := tcpPkt.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err == nil {
		if l4pkt := sniffer.ParseTCPPacket(ts, lyr, &tcpPkt); l4pkt != nil && ps.onL4Packet != nil {
			ps.onL4Packet(l4pkt)
		}
		return
	}

	var udpPkt layers.UDP
	if err := udpPkt.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return
	}
	if l4pkt := sniffer.ParseUDPDatagram(ts, lyr, &udpPkt); l4pkt != nil && ps.onL4Packet != nil {
		ps.onL4Packet(l4pkt)
	}
}
