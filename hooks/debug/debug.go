// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package debug provides a hook which logs every dissected packet.
package debug

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

// Options contains configuration settings for the debug output.
type Options struct {
	Enable         bool `yaml:"enable" json:"enable"`                     // non-zero field for enabling hook using file-based config
	ShowPacketData bool `yaml:"show_packet_data" json:"show_packet_data"` // include decoded packet data (default false)
	ShowPings      bool `yaml:"show_pings" json:"show_pings"`             // show ping requests and responses (default false)
	ShowPasswords  bool `yaml:"show_passwords" json:"show_passwords"`     // show connecting user passwords (default false)
	ShowPayloads   bool `yaml:"show_payloads" json:"show_payloads"`       // show publish and will payloads (default false)
}

// Hook is a debugging hook which logs additional low-level information from the dissector.
type Hook struct {
	dissector.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides all methods.
func (h *Hook) Provides(b byte) bool {
	return true
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return dissector.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)

	return nil
}

// SetOpts is called when the hook receives inheritable dissector parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *dissector.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts", "strict", opts.Strict, "reassemble", opts.Reassemble)
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the dissector starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the dissector stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnSysInfoTick is called when the dissector refreshes system info.
func (h *Hook) OnSysInfoTick(info *system.Info) {
	h.Log.Debug("", "method", "OnSysInfoTick", "connections", info.ConnectionsOpen, "packets", info.PacketsDecoded)
}

// OnConnectionOpened is called when a new connection is seen.
func (h *Hook) OnConnectionOpened(cl *dissector.Conn) {
	h.Log.Debug("connection opened", "method", "OnConnectionOpened", "connection", cl.ID, "remote", cl.Net.Remote, "listener", cl.Net.Listener)
}

// OnConnectionClosed is called when a connection is torn down.
func (h *Hook) OnConnectionClosed(cl *dissector.Conn, err error) {
	h.Log.Debug("connection closed", "method", "OnConnectionClosed", "connection", cl.ID, "error", err)
}

// OnPacket is called when a frame has been decoded.
func (h *Hook) OnPacket(cl *dissector.Conn, d dissector.Decoded) {
	t := d.Packet.Header().Type
	if (t == packets.Pingresp || t == packets.Pingreq) && !h.config.ShowPings {
		return
	}

	h.Log.Debug(fmt.Sprintf("%s %s %s", strings.ToUpper(t.String()), arrow(d.Direction), cl.ID), "m", h.packetMeta(d.Packet))
}

// OnPacketError is called when a frame failed to decode.
func (h *Hook) OnPacketError(cl *dissector.Conn, d dissector.Decoded) {
	h.Log.Debug(fmt.Sprintf("%s %s %s", strings.ToUpper(d.Frame.Type.String()), arrow(d.Direction), cl.ID), "method", "OnPacketError", "error", d.Err, "raw", d.Frame.Raw)
}

// OnStreamError is called when a direction can no longer be framed.
func (h *Hook) OnStreamError(cl *dissector.Conn, dir dissector.Direction, err error) {
	h.Log.Debug("stream failed", "method", "OnStreamError", "connection", cl.ID, "direction", dir.String(), "error", err)
}

// StoredSysInfo is called when the dissector restores system info from a store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	h.Log.Debug("", "method", "StoredSysInfo")

	return v, nil
}

// arrow returns the symbol used to show the direction of a packet.
func arrow(dir dissector.Direction) string {
	if dir == dissector.ServerToClient {
		return ">>"
	}
	return "<<"
}

// packetMeta adds additional type-specific metadata to the debug logs.
func (h *Hook) packetMeta(pk packets.Packet) map[string]any {
	m := map[string]any{}
	switch p := pk.(type) {
	case *packets.ConnectPacket:
		m["id"] = p.ClientIdentifier
		m["clean"] = p.CleanSession
		m["keepalive"] = p.Keepalive
		m["version"] = p.ProtocolVersion.String()
		m["username"] = p.Username
		if h.config.ShowPasswords {
			m["password"] = string(p.Password)
		}
		if p.WillFlag {
			m["will_topic"] = p.WillTopic
			m["will_qos"] = p.WillQos
			if h.config.ShowPayloads {
				m["will_payload"] = string(p.WillMessage)
			}
		}
	case *packets.ConnackPacket:
		m["session_present"] = p.SessionPresent
		m["return_code"] = p.ReturnCode.String()
	case *packets.PublishPacket:
		m["topic"] = p.TopicName
		m["qos"] = p.Qos
		m["dup"] = p.Dup
		m["retain"] = p.Retain
		if p.HasPacketID {
			m["id"] = p.PacketID
		}
		m["len"] = len(p.Payload)
		if h.config.ShowPayloads {
			m["payload"] = string(p.Payload)
		}
	case *packets.PubackPacket:
		m["id"] = p.PacketID
	case *packets.PubrecPacket:
		m["id"] = p.PacketID
	case *packets.PubrelPacket:
		m["id"] = p.PacketID
	case *packets.PubcompPacket:
		m["id"] = p.PacketID
	case *packets.UnsubackPacket:
		m["id"] = p.PacketID
	case *packets.SubscribePacket:
		f := map[string]string{}
		for _, v := range p.Subscriptions {
			f[v.Filter] = packets.QosName(v.Qos)
		}
		m["id"] = p.PacketID
		m["filters"] = f
	case *packets.UnsubscribePacket:
		m["id"] = p.PacketID
		m["filters"] = p.Filters
	case *packets.SubackPacket:
		r := []string{}
		for _, v := range p.ReturnCodes {
			r = append(r, packets.QosName(v))
		}
		m["id"] = p.PacketID
		m["return_codes"] = r
	}

	if h.config.ShowPacketData {
		m["packet"] = h.redact(pk)
	}

	return m
}

// redact returns pk without the password and payloads, unless they are
// allowed to be shown. pk itself is not modified.
func (h *Hook) redact(pk packets.Packet) packets.Packet {
	switch p := pk.(type) {
	case *packets.ConnectPacket:
		if h.config.ShowPasswords && h.config.ShowPayloads {
			return p
		}
		c := *p
		if !h.config.ShowPasswords {
			c.Password = nil
		}
		if !h.config.ShowPayloads {
			c.WillMessage = nil
		}
		return &c
	case *packets.PublishPacket:
		if h.config.ShowPayloads {
			return p
		}
		c := *p
		c.Payload = nil
		return &c
	}
	return pk
}
