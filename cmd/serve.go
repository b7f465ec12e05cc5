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
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/packetd/amqpmock/amqp"
	"github.com/packetd/amqpmock/broker"
	"github.com/packetd/amqpmock/common"
	"github.com/packetd/amqpmock/confengine"
	"github.com/packetd/amqpmock/httpcontrol"
	"github.com/packetd/amqpmock/internal/rescue"
	"github.com/packetd/amqpmock/internal/sigs"
	"github.com/packetd/amqpmock/logger"
	"github.com/packetd/amqpmock/server"
)

var (
	configPath  string
	amqpAddress string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AMQP listener and its HTTP control plane",
	Run: func(cmd *cobra.Command, args []string) {
		var conf *confengine.Config
		if configPath != "" {
			loaded, err := confengine.LoadConfigPath(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
				os.Exit(1)
			}
			conf = loaded
		}

		if err := runServe(conf); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	},
	Example: "# amqpmock serve --amqp-address 0.0.0.0:5672",
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Configuration file path (optional)")
	serveCmd.Flags().StringVar(&amqpAddress, "amqp-address", common.DefaultAMQPAddress, "Address the AMQP listener binds to")
	rootCmd.AddCommand(serveCmd)
}

func runServe(conf *confengine.Config) error {
	user := envOrDefault("DEFAULT_USER", "guest")
	password := envOrDefault("DEFAULT_PASSWORD", "guest")
	state := broker.New(user, password)

	ln, err := net.Listen("tcp", amqpAddress)
	if err != nil {
		return fmt.Errorf("amqp listen: %w", err)
	}
	logger.Infof("amqp listener bound on %s", amqpAddress)

	srv, err := server.New(conf)
	if err != nil {
		return fmt.Errorf("build http control plane: %w", err)
	}
	httpcontrol.Register(srv, state)

	httpErrs := make(chan error, 1)
	go func() {
		defer rescue.HandleCrash()
		if err := srv.ListenAndServe(); err != nil {
			httpErrs <- err
		}
	}()

	go acceptLoop(ln, state)

	select {
	case <-sigs.Terminate():
		logger.Infof("received termination signal, shutting down")
	case err := <-httpErrs:
		logger.Errorf("http control plane stopped: %v", err)
	}

	var result *multierror.Error
	if err := ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := srv.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// acceptLoop mirrors a plain TCP server's connection-per-goroutine shape:
// each accepted socket gets its own Conn driving the AMQP state machine
// until the peer disconnects or protocol negotiation fails.
func acceptLoop(ln net.Listener, state *broker.State) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnf("amqp: accept error: %v", err)
			continue
		}

		conn := amqp.NewConn(nc, state)
		go func() {
			defer rescue.HandleCrash()
			conn.Serve()
		}()
	}
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
