// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package metrics provides a hook which records dissector activity as
// OpenTelemetry instruments.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/packets"
)

const defaultMeterName = "mqtt-dissector"

// Options contains configuration settings for the metrics hook.
type Options struct {
	Enable bool   `yaml:"enable" json:"enable"`         // non-zero field for enabling hook using file-based config
	Meter  string `yaml:"meter_name" json:"meter_name"` // the name of the meter, mqtt-dissector if empty

	// Provider supplies the meter. The global provider is used if nil.
	Provider metric.MeterProvider `yaml:"-" json:"-"`
}

// Hook records packets, failures and connections as OpenTelemetry metrics.
type Hook struct {
	dissector.HookBase
	config *Options
	meter  metric.Meter

	packetsTotal       metric.Int64Counter
	packetErrors       metric.Int64Counter
	streamErrors       metric.Int64Counter
	bytesTotal         metric.Int64Counter
	connectionsTotal   metric.Int64Counter
	connectionsCurrent metric.Int64UpDownCounter
	frameSize          metric.Int64Histogram
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "otel-metrics"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	switch b {
	case dissector.OnConnectionOpened,
		dissector.OnConnectionClosed,
		dissector.OnPacket,
		dissector.OnPacketError,
		dissector.OnStreamError:
		return true
	}
	return false
}

// Init creates the instruments of the hook.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return dissector.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Meter == "" {
		h.config.Meter = defaultMeterName
	}

	provider := h.config.Provider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	h.meter = provider.Meter(h.config.Meter)

	var err error
	h.packetsTotal, err = h.meter.Int64Counter(
		"mqtt.dissector.packets.total",
		metric.WithDescription("Total packets decoded, by type and direction"),
	)
	if err != nil {
		return fmt.Errorf("failed to create packetsTotal counter: %w", err)
	}

	h.packetErrors, err = h.meter.Int64Counter(
		"mqtt.dissector.packet.errors.total",
		metric.WithDescription("Total frames which failed to decode, by type and reason"),
	)
	if err != nil {
		return fmt.Errorf("failed to create packetErrors counter: %w", err)
	}

	h.streamErrors, err = h.meter.Int64Counter(
		"mqtt.dissector.stream.errors.total",
		metric.WithDescription("Total stream directions which could no longer be framed"),
	)
	if err != nil {
		return fmt.Errorf("failed to create streamErrors counter: %w", err)
	}

	h.bytesTotal, err = h.meter.Int64Counter(
		"mqtt.dissector.frame.bytes.total",
		metric.WithDescription("Total bytes of complete frames, by direction"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create bytesTotal counter: %w", err)
	}

	h.connectionsTotal, err = h.meter.Int64Counter(
		"mqtt.dissector.connections.total",
		metric.WithDescription("Total connections seen"),
	)
	if err != nil {
		return fmt.Errorf("failed to create connectionsTotal counter: %w", err)
	}

	h.connectionsCurrent, err = h.meter.Int64UpDownCounter(
		"mqtt.dissector.connections.current",
		metric.WithDescription("Current number of tracked connections"),
	)
	if err != nil {
		return fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	h.frameSize, err = h.meter.Int64Histogram(
		"mqtt.dissector.frame.size.bytes",
		metric.WithDescription("Size of complete frames"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create frameSize histogram: %w", err)
	}

	return nil
}

// OnConnectionOpened counts a new connection.
func (h *Hook) OnConnectionOpened(cl *dissector.Conn) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("listener", cl.Net.Listener))
	h.connectionsTotal.Add(ctx, 1, attrs)
	h.connectionsCurrent.Add(ctx, 1, attrs)
}

// OnConnectionClosed removes a connection from the current count.
func (h *Hook) OnConnectionClosed(cl *dissector.Conn, err error) {
	h.connectionsCurrent.Add(context.Background(), -1, metric.WithAttributes(attribute.String("listener", cl.Net.Listener)))
}

// OnPacket counts a decoded packet.
func (h *Hook) OnPacket(cl *dissector.Conn, d dissector.Decoded) {
	ctx := context.Background()
	dir := attribute.String("direction", d.Direction.String())
	h.packetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", d.Frame.Type.String()),
		dir,
	))
	h.bytesTotal.Add(ctx, int64(len(d.Frame.Raw)), metric.WithAttributes(dir))
	h.frameSize.Record(ctx, int64(len(d.Frame.Raw)), metric.WithAttributes(dir))
}

// OnPacketError counts a frame which failed to decode.
func (h *Hook) OnPacketError(cl *dissector.Conn, d dissector.Decoded) {
	ctx := context.Background()
	dir := attribute.String("direction", d.Direction.String())
	h.packetErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", d.Frame.Type.String()),
		attribute.String("reason", reason(d.Err)),
		dir,
	))
	h.bytesTotal.Add(ctx, int64(len(d.Frame.Raw)), metric.WithAttributes(dir))
}

// OnStreamError counts a direction which can no longer be framed.
func (h *Hook) OnStreamError(cl *dissector.Conn, dir dissector.Direction, err error) {
	h.streamErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("direction", dir.String()),
		attribute.String("reason", reason(err)),
	))
}

// reason returns the low-cardinality reason of a decoding failure.
func reason(err error) string {
	var code packets.Code
	if errors.As(err, &code) {
		return code.Reason
	}
	return "unknown"
}
