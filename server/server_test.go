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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htpguard/htpguard/confengine"
)

func TestNewDisabled(t *testing.T) {
	conf, err := confengine.LoadContent([]byte(`
server:
  enabled: false
`))
	require.NoError(t, err)

	s, err := New(conf)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewPprofRoutes(t *testing.T) {
	conf, err := confengine.LoadContent([]byte(`
server:
  enabled: true
  address: 127.0.0.1:0
  pprof: true
`))
	require.NoError(t, err)

	s, err := New(conf)
	require.NoError(t, err)
	require.NotNil(t, s)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterMetricsRoute(t *testing.T) {
	conf, err := confengine.LoadContent([]byte(`
server:
  enabled: true
  address: 127.0.0.1:0
`))
	require.NoError(t, err)

	s, err := New(conf)
	require.NoError(t, err)
	require.NotNil(t, s)
	s.RegisterMetricsRoute()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
