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

// StreamStatus 是 spec §4.5 描述的流状态机
type StreamStatus int

const (
	StatusNew StreamStatus = iota
	StatusOpen
	StatusClosed
	StatusError
	StatusData
	StatusDataOther
	StatusStop
	StatusTunnel
)

func (s StreamStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	case StatusError:
		return "ERROR"
	case StatusData:
		return "DATA"
	case StatusStop:
		return "STOP"
	case StatusDataOther:
		return "DATA_OTHER"
	case StatusTunnel:
		return "TUNNEL"
	default:
		return "UNKNOWN"
	}
}

// stepResult 是状态函数的返回值 驱动 feed() 的主循环（trampoline）
type stepResult int

const (
	stepOK stepResult = iota
	stepData
	stepDataOther
	stepStop
	stepError
)
