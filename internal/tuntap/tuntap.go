// Package tuntap declares the opaque TAP device interface consumed by the
// edge runtime (spec.md §6): open/read/write/close plus the address
// assignment modes. Platform bring-up is out of scope per spec.md §1; this
// package provides a Linux implementation (grounded on server/listen_linux.go's
// own golang.org/x/sys/unix ioctl style) and a stub for everything else,
// following kcptun's own client/utils_android.go build-tag split.
package tuntap

import "net"

// IPMode selects how the TAP interface's address is assigned, per
// spec.md §6.
type IPMode int

const (
	IPModeStatic IPMode = iota
	IPModeDHCP
	IPModeSupernodeAssigned
)

// Config describes how to bring up a TAP device.
type Config struct {
	Name   string
	Mode   IPMode
	IP     net.IP
	Mask   net.IPMask
	MAC    [6]byte
	MTU    int
	Metric int
}

// Device is the opaque TAP handle the edge runtime consumes.
type Device interface {
	Read(frame []byte) (int, error)
	Write(frame []byte) (int, error)
	Close() error
	// Name reports the kernel-assigned or requested interface name.
	Name() string
}

// Open brings up a TAP device named cfg.Name, dispatching to the
// platform-specific constructor. The Linux constructor applies only
// cfg.Name; Mode, IP, Mask, MAC, MTU and Metric are not applied to the
// interface.
func Open(cfg Config) (Device, error) {
	return openPlatform(cfg)
}
