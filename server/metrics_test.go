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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/htpguard/htpguard/protocol/phttp"
)

func TestRecordTransaction(t *testing.T) {
	before := testutil.ToFloat64(transactionsTotal.WithLabelValues("anomalous"))

	tx := &phttp.Transaction{}
	tx.Flags = tx.Flags.Set(phttp.FlagPathRawNUL)
	RecordTransaction(tx)

	assert.Equal(t, before+1, testutil.ToFloat64(transactionsTotal.WithLabelValues("anomalous")))
	assert.Equal(t, float64(1), testutil.ToFloat64(anomalyFlagsTotal.WithLabelValues("path_raw_nul")))
}

func TestRecordTransactionClean(t *testing.T) {
	before := testutil.ToFloat64(transactionsTotal.WithLabelValues("clean"))

	RecordTransaction(&phttp.Transaction{})

	assert.Equal(t, before+1, testutil.ToFloat64(transactionsTotal.WithLabelValues("clean")))
}

func TestRecordBodyBytes(t *testing.T) {
	beforeReq := testutil.ToFloat64(bodyBytesTotal.WithLabelValues("request"))
	beforeRes := testutil.ToFloat64(bodyBytesTotal.WithLabelValues("response"))

	RecordBodyBytes(phttp.DirInbound, 10)
	RecordBodyBytes(phttp.DirOutbound, 20)

	assert.Equal(t, beforeReq+10, testutil.ToFloat64(bodyBytesTotal.WithLabelValues("request")))
	assert.Equal(t, beforeRes+20, testutil.ToFloat64(bodyBytesTotal.WithLabelValues("response")))
}
