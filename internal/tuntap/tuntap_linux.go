//go:build linux

package tuntap

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	ifNameSize = 16
	tunDev     = "/dev/net/tun"
)

// ifReq mirrors the kernel's struct ifreq, trimmed to the fields TUNSETIFF
// needs.
type ifReq struct {
	name  [ifNameSize]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// linuxTAP wraps the /dev/net/tun character device, brought up with
// TUNSETIFF in tap+no-pi mode. Grounded on server/listen_linux.go's own
// golang.org/x/sys/unix ioctl idiom for socket option tuning.
type linuxTAP struct {
	f    *os.File
	name string
}

func openPlatform(cfg Config) (Device, error) {
	f, err := os.OpenFile(tunDev, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "tuntap: open "+tunDev)
	}

	var req ifReq
	copy(req.name[:], cfg.Name)
	req.flags = unix.IFF_TAP | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, errors.Wrap(errno, "tuntap: TUNSETIFF")
	}

	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "tuntap: set nonblocking")
	}

	name := string(req.name[:])
	if idx := indexZero(req.name[:]); idx >= 0 {
		name = string(req.name[:idx])
	}

	return &linuxTAP{f: f, name: name}, nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func (t *linuxTAP) Read(frame []byte) (int, error)  { return t.f.Read(frame) }
func (t *linuxTAP) Write(frame []byte) (int, error) { return t.f.Write(frame) }
func (t *linuxTAP) Close() error                    { return t.f.Close() }
func (t *linuxTAP) Name() string                    { return t.name }
