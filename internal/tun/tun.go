// Package tun provides the local tunnel interface: a TUN device carrying raw
// IP frames, configured with the mesh address.
package tun

import (
	"errors"
	"io"
)

// ErrUnsupported is returned on platforms without TUN support.
var ErrUnsupported = errors.New("tun devices are only supported on linux")

// Device is an open, configured TUN interface. Each Read returns one IP
// frame and each Write injects one.
type Device struct {
	name string
	rwc  io.ReadWriteCloser
}

func (d *Device) Name() string                { return d.name }
func (d *Device) Read(p []byte) (int, error)  { return d.rwc.Read(p) }
func (d *Device) Write(p []byte) (int, error) { return d.rwc.Write(p) }
func (d *Device) Close() error                { return d.rwc.Close() }
