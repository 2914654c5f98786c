// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

// Package system contains the running statistics of a dissector.
package system

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Info contains atomic counters and values for various dissector statistics.
type Info struct {
	Version             string `json:"version"`                // the current version of the dissector
	Started             int64  `json:"started"`                // the time the dissector started in unix seconds
	Time                int64  `json:"time"`                   // current time on the dissector
	Uptime              int64  `json:"uptime"`                 // the number of seconds the dissector has been online
	BytesClientToServer int64  `json:"bytes_client_to_server"` // total number of bytes observed from clients
	BytesServerToClient int64  `json:"bytes_server_to_client"` // total number of bytes observed from servers
	ConnectionsOpen     int64  `json:"connections_open"`       // number of connections currently tracked
	ConnectionsMaximum  int64  `json:"connections_maximum"`    // the most connections tracked at once
	ConnectionsTotal    int64  `json:"connections_total"`      // total number of connections seen since start
	FramesReceived      int64  `json:"frames_received"`        // total number of complete frames extracted
	PacketsDecoded      int64  `json:"packets_decoded"`        // total number of frames decoded without error
	PublishPackets      int64  `json:"publish_packets"`        // total number of PUBLISH packets decoded
	PacketErrors        int64  `json:"packet_errors"`          // total number of frames which failed to decode
	StreamErrors        int64  `json:"stream_errors"`          // total number of stream directions which could no longer be framed
	MemoryAlloc         int64  `json:"memory_alloc"`           // memory currently allocated
	Threads             int64  `json:"threads"`                // number of active goroutines, named as threads for platform ambiguity
}

// Clone makes a copy of Info using atomic operation
func (i *Info) Clone() *Info {
	return &Info{
		Version:             i.Version,
		Started:             atomic.LoadInt64(&i.Started),
		Time:                atomic.LoadInt64(&i.Time),
		Uptime:              atomic.LoadInt64(&i.Uptime),
		BytesClientToServer: atomic.LoadInt64(&i.BytesClientToServer),
		BytesServerToClient: atomic.LoadInt64(&i.BytesServerToClient),
		ConnectionsOpen:     atomic.LoadInt64(&i.ConnectionsOpen),
		ConnectionsMaximum:  atomic.LoadInt64(&i.ConnectionsMaximum),
		ConnectionsTotal:    atomic.LoadInt64(&i.ConnectionsTotal),
		FramesReceived:      atomic.LoadInt64(&i.FramesReceived),
		PacketsDecoded:      atomic.LoadInt64(&i.PacketsDecoded),
		PublishPackets:      atomic.LoadInt64(&i.PublishPackets),
		PacketErrors:        atomic.LoadInt64(&i.PacketErrors),
		StreamErrors:        atomic.LoadInt64(&i.StreamErrors),
		MemoryAlloc:         atomic.LoadInt64(&i.MemoryAlloc),
		Threads:             atomic.LoadInt64(&i.Threads),
	}
}

// ConnectionOpened increments the open and total connection counts, raising
// the maximum if it has been passed.
func (i *Info) ConnectionOpened() {
	atomic.AddInt64(&i.ConnectionsTotal, 1)
	open := atomic.AddInt64(&i.ConnectionsOpen, 1)
	for {
		max := atomic.LoadInt64(&i.ConnectionsMaximum)
		if open <= max || atomic.CompareAndSwapInt64(&i.ConnectionsMaximum, max, open) {
			return
		}
	}
}

// ConnectionClosed decrements the open connection count.
func (i *Info) ConnectionClosed() {
	atomic.AddInt64(&i.ConnectionsOpen, -1)
}

// RegisterPrometheusMetrics exposes the counters on registry, or the default
// registerer if nil.
func (i *Info) RegisterPrometheusMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	type metrics struct {
		metricType string
		name       string
		help       string
		value      *int64
	}

	metricsList := []metrics{
		{"c", "bytes_client_to_server", "A counter of the bytes observed from clients", &i.BytesClientToServer},
		{"c", "bytes_server_to_client", "A counter of the bytes observed from servers", &i.BytesServerToClient},
		{"g", "connections_open", "A gauge of the number of connections currently tracked", &i.ConnectionsOpen},
		{"g", "connections_maximum", "A gauge of the most connections tracked at once", &i.ConnectionsMaximum},
		{"c", "connections_total", "A counter of the connections seen", &i.ConnectionsTotal},
		{"c", "frames_received", "A counter of the complete frames extracted", &i.FramesReceived},
		{"c", "packets_decoded", "A counter of the frames decoded without error", &i.PacketsDecoded},
		{"c", "publish_packets", "A counter of the PUBLISH packets decoded", &i.PublishPackets},
		{"c", "packet_errors", "A counter of the frames which failed to decode", &i.PacketErrors},
		{"c", "stream_errors", "A counter of the stream directions which could no longer be framed", &i.StreamErrors},
		{"g", "memory_alloc", "A gauge of the memory currently allocated", &i.MemoryAlloc},
		{"g", "threads", "A gauge of the number of active goroutines", &i.Threads},
	}

	for _, m := range metricsList {
		m := m
		fn := func() float64 {
			return float64(atomic.LoadInt64(m.value))
		}

		switch m.metricType {
		case "c":
			registry.MustRegister(
				prometheus.NewCounterFunc(
					prometheus.CounterOpts{
						Namespace: "mqtt_dissector",
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		case "g":
			registry.MustRegister(
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Namespace: "mqtt_dissector",
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		}
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mqtt_dissector",
			Name:      "build_info",
			Help:      "Build Information",
		},
		[]string{"goversion", "version"},
	)
	registry.MustRegister(buildInfo)
	buildInfo.With(prometheus.Labels{"goversion": runtime.Version(), "version": i.Version}).Set(1)
}
