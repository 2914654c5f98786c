// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/config"
	"github.com/mochi-mqtt/dissector/hooks/debug"
	"github.com/mochi-mqtt/dissector/listeners"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configFile string
		tcpAddr    string
		wsAddr     string
		infoAddr   string
		upstream   string
		strict     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "mqtt-dissector",
		Short: "Proxy MQTT connections to a broker and decode every packet",
		Long: `Accepts MQTT client connections, relays them to an upstream broker, and
decodes the v3.1 and v3.1.1 control packets travelling in both directions.

Listeners and hooks are taken from the config file if one is given,
otherwise from the flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := new(dissector.Options)
			if configFile != "" {
				o, err := config.FromFile(configFile)
				if err != nil {
					return err
				}
				if o != nil {
					opts = o
				}
			}

			if len(opts.Listeners) == 0 {
				opts.Listeners = flagListeners(tcpAddr, wsAddr, infoAddr, upstream)
			}
			opts.Strict = opts.Strict || strict
			opts.Logger = newLogger(verbose)

			return serve(opts, verbose)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML or JSON config file")
	cmd.Flags().StringVar(&tcpAddr, "tcp", ":1884", "network address for the TCP listener")
	cmd.Flags().StringVar(&wsAddr, "ws", "", "network address for the websocket listener")
	cmd.Flags().StringVar(&infoAddr, "info", ":8080", "network address for the HTTP stats listener")
	cmd.Flags().StringVarP(&upstream, "upstream", "u", "localhost:1883", "address of the broker to relay connections to")
	cmd.Flags().BoolVar(&strict, "strict", false, "validate flags, qos and strings")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every decoded packet")

	cmd.AddCommand(decodeCmd())

	return cmd
}

// flagListeners returns the listener configs described by the command flags.
func flagListeners(tcpAddr, wsAddr, infoAddr, upstream string) []listeners.Config {
	var lc []listeners.Config
	if tcpAddr != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeTCP, ID: "t1", Address: tcpAddr, Upstream: upstream})
	}

	if wsAddr != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeWS, ID: "ws1", Address: wsAddr, Upstream: upstream})
	}

	if infoAddr != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeSysInfo, ID: "stats", Address: infoAddr})
	}

	return lc
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func serve(opts *dissector.Options, verbose bool) error {
	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	d := dissector.New(opts)
	if verbose {
		if err := d.AddHook(new(debug.Hook), &debug.Options{ShowPacketData: true}); err != nil {
			return err
		}
	}

	go func() {
		err := d.Serve()
		if err != nil {
			d.Log.Error("failed to serve", "error", err)
		}
	}()

	<-done
	d.Log.Warn("caught signal, stopping...")
	_ = d.Close()
	d.Log.Info("main.go finished")
	return nil
}

func decodeCmd() *cobra.Command {
	var (
		fromHex bool
		server  bool
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a captured byte stream",
		Long: `Decodes one direction of a captured MQTT byte stream and logs every packet.
The file holds raw bytes, or hex text when --hex is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			if fromHex {
				b, err = hex.DecodeString(strings.Join(strings.Fields(string(b)), ""))
				if err != nil {
					return fmt.Errorf("decode hex: %w", err)
				}
			}

			dir := dissector.ClientToServer
			if server {
				dir = dissector.ServerToClient
			}

			d := dissector.New(&dissector.Options{
				Strict: strict,
				Logger: newLogger(true),
			})
			defer d.Close()

			if err := d.AddHook(new(debug.Hook), &debug.Options{ShowPacketData: true, ShowPings: true, ShowPayloads: true}); err != nil {
				return err
			}

			return d.Feed(args[0], dir, b)
		},
	}

	cmd.Flags().BoolVar(&fromHex, "hex", false, "the file holds hex text")
	cmd.Flags().BoolVar(&server, "server", false, "the capture travelled from server to client")
	cmd.Flags().BoolVar(&strict, "strict", false, "validate flags, qos and strings")

	return cmd
}
