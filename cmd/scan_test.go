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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htpguard/htpguard/common/socket"
	"github.com/htpguard/htpguard/protocol/phttp"
)

func TestScanCmdConfigYAML(t *testing.T) {
	c := scanCmdConfig{
		PcapFile: "traffic.pcap",
		Ports:    "80, 8080 ,",
		Address:  ":9090",
		Pprof:    true,
		Console:  true,
	}

	assert.Equal(t, []string{"80", "8080"}, c.ports())

	b, err := c.yaml()
	require.NoError(t, err)
	assert.Contains(t, string(b), "file: traffic.pcap")
	assert.Contains(t, string(b), "ports: [80, 8080]")
	assert.Contains(t, string(b), "pprof: true")
}

func TestDecideServerPort(t *testing.T) {
	ports := map[socket.Port]struct{}{80: {}}

	st := socket.Tuple{SrcPort: 12345, DstPort: 80}
	port, ok := decideServerPort(st, ports)
	assert.True(t, ok)
	assert.Equal(t, socket.Port(80), port)

	st = socket.Tuple{SrcPort: 80, DstPort: 12345}
	port, ok = decideServerPort(st, ports)
	assert.True(t, ok)
	assert.Equal(t, socket.Port(80), port)

	st = socket.Tuple{SrcPort: 4000, DstPort: 5000}
	_, ok = decideServerPort(st, ports)
	assert.False(t, ok)
}

func TestTransactionPrinterTextDedup(t *testing.T) {
	var buf bytes.Buffer
	p, err := newTransactionPrinter("text", &buf)
	require.NoError(t, err)

	tx := &phttp.Transaction{Method: "GET", URI: &phttp.URI{Path: "/../etc/passwd"}}
	tx.Flags = tx.Flags.Set(phttp.FlagPathEncodedSeparator)

	require.NoError(t, p.Print(tx))
	require.NoError(t, p.Print(tx))
	require.NoError(t, p.Print(tx))

	out := buf.String()
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("anomalous")))
	assert.Equal(t, "suppressed 2 duplicate anomalous transaction(s) matching an already-seen (method, path, flags) fingerprint", p.Summary())
}

func TestTransactionPrinterTextCleanNeverSuppressed(t *testing.T) {
	var buf bytes.Buffer
	p, err := newTransactionPrinter("text", &buf)
	require.NoError(t, err)

	tx := &phttp.Transaction{Method: "GET", URI: &phttp.URI{Path: "/"}}
	require.NoError(t, p.Print(tx))
	require.NoError(t, p.Print(tx))

	assert.Equal(t, 2, bytes.Count([]byte(buf.String()), []byte("clean")))
	assert.Equal(t, "", p.Summary())
}

func TestTransactionPrinterUnsupportedFormat(t *testing.T) {
	_, err := newTransactionPrinter("xml", &bytes.Buffer{})
	assert.Error(t, err)
}
