// Package config loads the demo process's static descriptor bundle from
// YAML. This is wiring for cmd/vscd only: the transport core itself takes
// descriptor.Rx/descriptor.Tx as plain Go values and never touches a
// config file.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aes67/govsc/descriptor"
	"github.com/aes67/govsc/sample"
)

// Bundle is the on-disk shape of a vscd config file: a list of receiver and
// sender sessions to create at startup.
type Bundle struct {
	Interface string      `yaml:"interface"`
	Receivers []RxSession `yaml:"receivers"`
	Senders   []TxSession `yaml:"senders"`
}

// RxSession mirrors descriptor.Rx's fields in their YAML-friendly shape.
type RxSession struct {
	ID            string   `yaml:"id"`
	OriginIP      string   `yaml:"origin_ip"`
	Destination   string   `yaml:"destination"` // "group:port"
	PayloadType   uint8    `yaml:"payload_type"`
	PacketTimeMs  float64  `yaml:"packet_time_ms"`
	Channels      int      `yaml:"channels"`
	SampleFormat  string   `yaml:"sample_format"`
	SampleRate    uint32   `yaml:"sample_rate"`
	RTPOffset     uint32   `yaml:"rtp_offset"`
	ChannelLabels []string `yaml:"channel_labels"`
	LinkOffsetMs  float64  `yaml:"link_offset_ms"`
}

// TxSession mirrors descriptor.Tx's fields in their YAML-friendly shape.
type TxSession struct {
	ID            string   `yaml:"id"`
	Target        string   `yaml:"target"` // "addr:port"
	TTL           int      `yaml:"ttl"`
	PayloadType   uint8    `yaml:"payload_type"`
	PacketTimeMs  float64  `yaml:"packet_time_ms"`
	Channels      int      `yaml:"channels"`
	SampleFormat  string   `yaml:"sample_format"`
	SampleRate    uint32   `yaml:"sample_rate"`
	ChannelLabels []string `yaml:"channel_labels"`
}

// Load reads and parses a Bundle from path.
func Load(path string) (*Bundle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var bundle Bundle
	if err := yaml.Unmarshal(b, &bundle); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &bundle, nil
}

// ToDescriptor converts an RxSession into the descriptor.Rx the Supervisor
// expects, resolving addresses and the sample format name.
func (s RxSession) ToDescriptor(iface string) (descriptor.Rx, error) {
	format, err := sample.ParseFormat(s.SampleFormat)
	if err != nil {
		return descriptor.Rx{}, err
	}
	dest, err := net.ResolveUDPAddr("udp", s.Destination)
	if err != nil {
		return descriptor.Rx{}, fmt.Errorf("config: destination %q: %w", s.Destination, err)
	}
	origin := net.ParseIP(s.OriginIP)
	if origin == nil {
		return descriptor.Rx{}, fmt.Errorf("config: invalid origin_ip %q", s.OriginIP)
	}
	return descriptor.Rx{
		ID:            s.ID,
		OriginIP:      origin,
		Destination:   *dest,
		PayloadType:   s.PayloadType,
		PacketTime:    time.Duration(s.PacketTimeMs * float64(time.Millisecond)),
		Channels:      s.Channels,
		SampleFormat:  format,
		SampleRate:    s.SampleRate,
		RTPOffset:     s.RTPOffset,
		ChannelLabels: s.ChannelLabels,
		LinkOffset:    time.Duration(s.LinkOffsetMs * float64(time.Millisecond)),
		Interface:     iface,
	}, nil
}

// ToDescriptor converts a TxSession into the descriptor.Tx the Supervisor
// expects.
func (s TxSession) ToDescriptor(iface string) (descriptor.Tx, error) {
	format, err := sample.ParseFormat(s.SampleFormat)
	if err != nil {
		return descriptor.Tx{}, err
	}
	target, err := net.ResolveUDPAddr("udp", s.Target)
	if err != nil {
		return descriptor.Tx{}, fmt.Errorf("config: target %q: %w", s.Target, err)
	}
	return descriptor.Tx{
		ID:            s.ID,
		Target:        *target,
		TTL:           s.TTL,
		PayloadType:   s.PayloadType,
		PacketTime:    time.Duration(s.PacketTimeMs * float64(time.Millisecond)),
		Channels:      s.Channels,
		SampleFormat:  format,
		SampleRate:    s.SampleRate,
		ChannelLabels: s.ChannelLabels,
		Interface:     iface,
	}, nil
}
