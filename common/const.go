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

package common

const (
	// App 应用程序名称
	App = "amqpmock"

	// Version 应用程序版本
	Version = "v0.0.1"

	// ReadWriteBlockSize 每次从客户端连接读取的缓冲区大小
	ReadWriteBlockSize = 4096

	// DefaultAMQPAddress 默认 AMQP 监听地址
	DefaultAMQPAddress = "0.0.0.0:5672"

	// DefaultHTTPAddress 默认 HTTP 控制面监听地址
	DefaultHTTPAddress = "0.0.0.0:8080"
)
