/*
 * Copyright 2025 The Coedit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coedit-team/coedit/server"
	"github.com/coedit-team/coedit/server/chat"
	"github.com/coedit-team/coedit/server/logging"
)

var gracefulTimeout = 10 * time.Second

var (
	flagConfPath string
	flagLogLevel string

	roomGracePeriod         time.Duration
	roomInactivityThreshold time.Duration
	roomSweepInterval       time.Duration

	conf = server.NewConfig()
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server [options]",
		Short: "Start Coedit server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf.Rooms.GracePeriod = roomGracePeriod.String()
			conf.Rooms.InactivityThreshold = roomInactivityThreshold.String()
			conf.Rooms.SweepInterval = roomSweepInterval.String()

			// If a config file is given, command-line arguments will
			// be overwritten.
			if flagConfPath != "" {
				parsed, err := server.NewConfigFromFile(flagConfPath)
				if err != nil {
					return err
				}
				conf = parsed
			}

			if err := logging.SetLogLevel(flagLogLevel); err != nil {
				return err
			}

			srv, err := server.New(conf)
			if err != nil {
				return err
			}

			if err := srv.Start(); err != nil {
				return err
			}

			if code := handleSignal(srv); code != 0 {
				return fmt.Errorf("exit code: %d", code)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&flagConfPath, "config", "c", "", "Config path")
	cmd.Flags().StringVarP(&flagLogLevel, "log-level", "l", "info",
		"Log level: debug, info, warn, error, panic, fatal")
	cmd.Flags().IntVar(&conf.Port, "port", server.DefaultPort,
		"Port to listen on for collaboration connections")
	cmd.Flags().IntVar(&conf.Profiling.Port, "profiling-port", server.DefaultProfilingPort,
		"Port to listen on for serving profiling information")
	cmd.Flags().BoolVar(&conf.Profiling.EnablePprof, "pprof-enabled", false,
		"Enable runtime profiling data via HTTP server")
	cmd.Flags().DurationVar(&roomGracePeriod, "room-grace-period", 5*time.Minute,
		"How long an empty room survives before deletion")
	cmd.Flags().DurationVar(&roomInactivityThreshold, "room-inactivity-threshold", 60*time.Minute,
		"How long an empty room may stay inactive before the sweep deletes it")
	cmd.Flags().DurationVar(&roomSweepInterval, "room-sweep-interval", time.Minute,
		"Time between idle room sweeps")
	cmd.Flags().IntVar(&conf.Chat.HistorySize, "chat-history-size", chat.DefaultHistorySize,
		"Number of chat messages retained per room")
	cmd.Flags().IntVar(&conf.Chat.MaxTextLength, "chat-max-text-length", chat.DefaultMaxTextLength,
		"Hard cap on chat message length")

	return cmd
}

func handleSignal(srv *server.Server) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	select {
	case s := <-sigCh:
		sig = s
	case <-srv.ShutdownCh():
		// already shut down
		return 0
	}

	graceful := sig == syscall.SIGINT || sig == syscall.SIGTERM

	gracefulCh := make(chan struct{})
	go func() {
		if err := srv.Shutdown(graceful); err != nil {
			return
		}
		close(gracefulCh)
	}()

	select {
	case <-sigCh:
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}
