//go:build !linux

package tuntap

import "github.com/pkg/errors"

// ErrTapOpenFailed is returned on platforms without a TAP implementation,
// per spec.md §7's TapOpenFailed kind (fatal at startup).
var ErrTapOpenFailed = errors.New("tuntap: no TAP implementation for this platform")

func openPlatform(cfg Config) (Device, error) {
	return nil, ErrTapOpenFailed
}
