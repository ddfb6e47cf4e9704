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
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/htpguard/htpguard/common"
	"github.com/htpguard/htpguard/common/socket"
	"github.com/htpguard/htpguard/confengine"
	"github.com/htpguard/htpguard/internal/json"
	"github.com/htpguard/htpguard/internal/labels"
	"github.com/htpguard/htpguard/internal/sigs"
	"github.com/htpguard/htpguard/logger"
	"github.com/htpguard/htpguard/protocol"
	"github.com/htpguard/htpguard/protocol/phttp"
	"github.com/htpguard/htpguard/server"
	"github.com/htpguard/htpguard/sniffer"
	_ "github.com/htpguard/htpguard/sniffer/pcapfile"
)

// scanCmdConfig 收集 scan 子命令的 flag 用于拼装内联 YAML 配置
//
// 沿用教师仓库 cmd/watch.go 的写法：没有 --config 时通过模板拼出一份最小
// 配置 有 --config 时完全以文件内容为准
type scanCmdConfig struct {
	ConfigPath string
	PcapFile   string
	Ports      string
	Address    string
	Pprof      bool
	Console    bool
	Format     string
}

func (c *scanCmdConfig) ports() []string {
	var ports []string
	for _, p := range strings.Split(c.Ports, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			continue
		}
		ports = append(ports, p)
	}
	return ports
}

func (c *scanCmdConfig) yaml() ([]byte, error) {
	const text = `
logger:
  stdout: {{ .Console }}
  level: info

sniffer:
  engine: pcapfile
  file: {{ .PcapFile }}
  protocols:
    rules:
    - name: http
      protocol: http
      ports: [{{ .Ports }}]

server:
  enabled: true
  address: {{ .Address }}
  pprof: {{ .Pprof }}
  timeout: 30s
`
	tpl, err := template.New("scan").Parse(text)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = tpl.Execute(&buf, map[string]any{
		"Console":  c.Console,
		"PcapFile": c.PcapFile,
		"Ports":    strings.Join(c.ports(), ", "),
		"Address":  c.Address,
		"Pprof":    c.Pprof,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var scanConfig scanCmdConfig

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Replay an offline pcap/pcapng capture and report HTTP anomalies",
	Example: "# htpguard scan --pcap-file traffic.pcap --ports 80,8080\n" +
		"# htpguard scan --config htpguard.yaml",
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanConfig.ConfigPath, "config", "", "Configuration file path (overrides all other flags except --format)")
	scanCmd.Flags().StringVar(&scanConfig.PcapFile, "pcap-file", "", "Path to the .pcap/.pcapng file to replay")
	scanCmd.Flags().StringVar(&scanConfig.Ports, "ports", "80,8080", "Comma separated list of HTTP ports to parse")
	scanCmd.Flags().StringVar(&scanConfig.Address, "address", ":9090", "Metrics/pprof server listen address")
	scanCmd.Flags().BoolVar(&scanConfig.Pprof, "pprof", false, "Expose net/http/pprof debug routes")
	scanCmd.Flags().BoolVar(&scanConfig.Console, "console", true, "Log to stdout instead of a file")
	scanCmd.Flags().StringVar(&scanConfig.Format, "format", "text", "Transaction output format: text|json")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	conf, err := loadScanConfig()
	if err != nil {
		return err
	}

	if err := setupLogger(conf); err != nil {
		return err
	}

	svr, err := server.New(conf)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	if svr != nil {
		svr.RegisterMetricsRoute()
		go func() {
			if err := svr.ListenAndServe(); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	snif, err := sniffer.New(conf)
	if err != nil {
		return errors.Wrap(err, "failed to create sniffer\n"+
			"Note: replaying a pcap file does not require elevated privileges, only opening it does")
	}

	h := newHub()
	defer h.Close()

	phttpCfg := phttp.DefaultConfig()
	phttpCfg.Hooks = h.hooks()
	pool := phttp.NewConnPool(phttpCfg)

	ports := make(map[socket.Port]struct{})
	for _, pp := range snif.L7Ports() {
		for _, port := range pp.Ports {
			ports[port] = struct{}{}
		}
	}

	roundtrips := make(chan socket.RoundTrip, common.Concurrency())
	printer, err := newTransactionPrinter(scanConfig.Format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for rt := range roundtrips {
			tx, ok := rt.(*phttp.Transaction)
			if !ok {
				continue
			}
			server.RecordTransaction(tx)
			if err := printer.Print(tx); err != nil {
				logger.Warnf("failed to print transaction: %v", err)
			}
		}
	}()

	snif.SetOnL4Packet(func(pkt socket.L4Packet) {
		st := pkt.SocketTuple()
		serverPort, ok := decideServerPort(st, ports)
		if !ok {
			return
		}

		conn := pool.GetOrCreate(st, serverPort)
		if conn == nil {
			return
		}
		if err := conn.OnL4Packet(pkt, roundtrips); err != nil {
			if errors.Is(err, protocol.ErrConnClosed) {
				pool.Delete(st)
			}
		}
	})

	<-sigs.Terminate()
	snif.Close()
	close(roundtrips)
	<-done

	if s := printer.Summary(); s != "" {
		logger.Infof("%s", s)
	}
	return nil
}

// decideServerPort 在离线回放场景下用源/目的端口是否命中配置的端口集合来
// 判定服务端方向 与教师仓库 controller/portpools.go 的 DecideProto 思路一致
// 只是这里只有一个协议 不需要 port -> protocol 的映射表
func decideServerPort(st socket.Tuple, ports map[socket.Port]struct{}) (socket.Port, bool) {
	if _, ok := ports[st.SrcPort]; ok {
		return st.SrcPort, true
	}
	if _, ok := ports[st.DstPort]; ok {
		return st.DstPort, true
	}
	return 0, false
}

func loadScanConfig() (*confengine.Config, error) {
	if scanConfig.ConfigPath != "" {
		return confengine.LoadConfigPath(scanConfig.ConfigPath)
	}

	if scanConfig.PcapFile == "" {
		return nil, errors.New("either --config or --pcap-file must be set")
	}

	content, err := scanConfig.yaml()
	if err != nil {
		return nil, err
	}
	return confengine.LoadContent(content)
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}
	if !opts.Stdout && opts.Filename == "" {
		opts.Filename = "htpguard.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}
	logger.SetOptions(opts)
	return nil
}

// transactionPrinter 把已完成的事务打印到标准输出 text 模式贴近 curl -v 的
// 概览 json 模式逐行输出 goccy/go-json 编码的完整结构体
//
// text 模式下对重复出现的异常事务做指纹去重：同一 (method, path, 异常标记
// 集合) 的组合只打印一次 其余归入末尾的汇总计数 避免回放一个长 pcap 时
// 同一条异常刷屏 指纹沿用教师仓库 processor/roundtripstometrics 里
// "matchLabels 再 Hash" 的写法（internal/labels.Labels.Hash）只是把它从
// 指标序列去重挪用到了打印去重
type transactionPrinter struct {
	format string
	w      io.Writer

	seen       map[uint64]int
	suppressed int
}

func newTransactionPrinter(format string, w io.Writer) (*transactionPrinter, error) {
	switch format {
	case "", "text", "json":
	default:
		return nil, errors.Errorf("unsupported format (%s), expected text or json", format)
	}
	if format == "" {
		format = "text"
	}
	return &transactionPrinter{format: format, w: w, seen: make(map[uint64]int)}, nil
}

func (p *transactionPrinter) Print(tx *phttp.Transaction) error {
	if p.format == "json" {
		b, err := json.Marshal(tx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	}

	status := "clean"
	if tx.Flags != 0 {
		status = "anomalous"
		fp := transactionFingerprint(tx).Hash()
		if p.seen[fp] > 0 {
			p.seen[fp]++
			p.suppressed++
			return nil
		}
		p.seen[fp] = 1
	}

	_, err := fmt.Fprintf(p.w, "%s %s %s -> %d %s [%s]\n", tx.Method, tx.URI.Path, tx.ReqProtocol, tx.ResStatus, tx.ResReason, status)
	return err
}

// transactionFingerprint 构造用于去重的标签集合
func transactionFingerprint(tx *phttp.Transaction) labels.Labels {
	lbs := labels.Labels{
		{Name: "method", Value: tx.Method},
		{Name: "path", Value: tx.URI.Path},
		{Name: "flags", Value: strconv.FormatUint(uint64(tx.Flags), 16)},
	}
	sort.Sort(lbs)
	return lbs
}

// Summary 返回一份去重后被抑制的重复异常事务计数 供 scan 结束时打印
func (p *transactionPrinter) Summary() string {
	if p.suppressed == 0 {
		return ""
	}
	return fmt.Sprintf("suppressed %d duplicate anomalous transaction(s) matching an already-seen (method, path, flags) fingerprint", p.suppressed)
}
