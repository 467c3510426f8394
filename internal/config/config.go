// Package config holds the runtime configuration: defaults, an optional YAML
// file overlay, and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the values a bare `lanracer` invocation uses.
const (
	DefaultDevice        = "tun0"
	DefaultAddress       = "10.10.0.1"
	DefaultMask          = "255.255.255.0"
	DefaultMTU           = 1500
	DefaultEventQueue    = 32
	DefaultGatherTimeout = 30 * time.Second
	DefaultStatsInterval = 10 * time.Second
)

// STUN servers for ICE candidate gathering. No TURN: tunnels are direct.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Interface describes the local TUN device.
type Interface struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Mask    string `yaml:"mask"`
	MTU     int    `yaml:"mtu"`
}

// ICE controls candidate gathering.
type ICE struct {
	STUNServers []string `yaml:"stun_servers"`
	// GatherTimeout bounds the wait for candidate discovery before a
	// descriptor is published. Zero waits until the caller gives up.
	GatherTimeout time.Duration `yaml:"gather_timeout"`
	// Loopback includes 127.0.0.1 host candidates (same-machine testing).
	Loopback bool `yaml:"loopback"`
}

// Config stores everything gathered from the config file and flags.
type Config struct {
	Interface     Interface     `yaml:"interface"`
	ICE           ICE           `yaml:"ice"`
	EventQueue    int           `yaml:"event_queue"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	Debug         bool          `yaml:"debug"`
}

// Default returns a Config populated with the defaults.
func Default() Config {
	return Config{
		Interface: Interface{
			Name:    DefaultDevice,
			Address: DefaultAddress,
			Mask:    DefaultMask,
			MTU:     DefaultMTU,
		},
		ICE: ICE{
			STUNServers:   append([]string(nil), DefaultSTUNServers...),
			GatherTimeout: DefaultGatherTimeout,
		},
		EventQueue:    DefaultEventQueue,
		StatsInterval: DefaultStatsInterval,
	}
}

// Load reads a YAML file and overlays it on the defaults. Keys missing from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the interface parameters and queue sizing.
func (c Config) Validate() error {
	var errs []error

	if c.Interface.Name == "" {
		errs = append(errs, errors.New("interface name is empty"))
	}
	if ip := net.ParseIP(c.Interface.Address); ip == nil || ip.To4() == nil {
		errs = append(errs, fmt.Errorf("interface address %q is not an IPv4 address", c.Interface.Address))
	}
	if _, err := c.Interface.IPMask(); err != nil {
		errs = append(errs, err)
	}
	if c.Interface.MTU < 576 || c.Interface.MTU > 65535 {
		errs = append(errs, fmt.Errorf("mtu %d out of range (576~65535)", c.Interface.MTU))
	}
	if c.EventQueue < 1 {
		errs = append(errs, fmt.Errorf("event queue size %d must be positive", c.EventQueue))
	}
	if c.ICE.GatherTimeout < 0 {
		errs = append(errs, fmt.Errorf("gather timeout %s is negative", c.ICE.GatherTimeout))
	}

	return errors.Join(errs...)
}

// IPMask parses the dotted-quad mask, rejecting non-contiguous masks.
func (i Interface) IPMask() (net.IPMask, error) {
	ip := net.ParseIP(i.Mask).To4()
	if ip == nil {
		return nil, fmt.Errorf("mask %q is not a dotted IPv4 mask", i.Mask)
	}
	mask := net.IPMask(ip)
	if ones, bits := mask.Size(); ones == 0 && bits == 0 {
		return nil, fmt.Errorf("mask %q is not contiguous", i.Mask)
	}
	return mask, nil
}

// IPNet returns the interface address together with its mask.
func (i Interface) IPNet() (*net.IPNet, error) {
	ip := net.ParseIP(i.Address).To4()
	if ip == nil {
		return nil, fmt.Errorf("interface address %q is not an IPv4 address", i.Address)
	}
	mask, err := i.IPMask()
	if err != nil {
		return nil, err
	}
	return &net.IPNet{IP: ip, Mask: mask}, nil
}
