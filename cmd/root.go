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

// Package cmd wires the command-line entry points of the mock broker.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/amqpmock/common"
	"github.com/packetd/amqpmock/logger"
)

var rootCmd = &cobra.Command{
	Use:   common.App,
	Short: "A mock AMQP 0-9-1 broker used as a test double",
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	cobra.OnInitialize(func() {
		logger.SetLoggerLevel(logLevel)
	})
}

// Execute runs the configured command tree, exiting the process on error
// the same way every cobra-based packetd tool does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
