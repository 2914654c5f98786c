// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package system

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestClone(t *testing.T) {
	o := &Info{
		Version:             "version",
		Started:             1,
		Time:                2,
		Uptime:              3,
		BytesClientToServer: 4,
		BytesServerToClient: 5,
		ConnectionsOpen:     6,
		ConnectionsMaximum:  7,
		ConnectionsTotal:    8,
		FramesReceived:      9,
		PacketsDecoded:      10,
		PublishPackets:      11,
		PacketErrors:        12,
		StreamErrors:        13,
		MemoryAlloc:         14,
		Threads:             15,
	}

	n := o.Clone()

	require.Equal(t, o, n)
}

func TestConnectionCounts(t *testing.T) {
	i := new(Info)
	i.ConnectionOpened()
	i.ConnectionOpened()
	i.ConnectionClosed()
	i.ConnectionOpened()

	require.Equal(t, int64(2), i.ConnectionsOpen)
	require.Equal(t, int64(3), i.ConnectionsTotal)
	require.Equal(t, int64(2), i.ConnectionsMaximum)
}

func TestConnectionCountsConcurrent(t *testing.T) {
	i := new(Info)
	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.ConnectionOpened()
		}()
	}
	wg.Wait()

	require.Equal(t, int64(50), i.ConnectionsOpen)
	require.Equal(t, int64(50), i.ConnectionsMaximum)
}

func TestRegisterPrometheusMetrics(t *testing.T) {
	i := &Info{Version: "test", FramesReceived: 3}
	reg := prometheus.NewRegistry()
	i.RegisterPrometheusMetrics(reg)

	n, err := testutil.GatherAndCount(reg, "mqtt_dissector_frames_received", "mqtt_dissector_build_info")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	i.FramesReceived = 7
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "mqtt_dissector_frames_received" {
			require.Equal(t, float64(7), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
