//go:build !linux

package tun

import "github.com/1ureka/lanracer/internal/config"

func Open(iface config.Interface) (*Device, error) {
	return nil, ErrUnsupported
}
