package edge

import "github.com/pkg/errors"

// Sentinel error kinds from spec.md §7. A caller distinguishes fatal
// startup failures (ConfigInvalid, ResolveFailed, BindFailed,
// TapOpenFailed) from steady-state failures that are logged and
// counted but never crash the process (DecodeError, CryptoFailed,
// ReplayRejected, PoolFull, IoError, Timeout).
var (
	ErrConfigInvalid  = errors.New("edge: invalid configuration")
	ErrResolveFailed  = errors.New("edge: supernode hostname resolution failed")
	ErrBindFailed     = errors.New("edge: failed to bind UDP socket")
	ErrTapOpenFailed  = errors.New("edge: failed to open TAP device")
	ErrDecodeError    = errors.New("edge: malformed wire message")
	ErrCryptoFailed   = errors.New("edge: payload transform failed")
	ErrReplayRejected = errors.New("edge: replay-protected timestamp rejected")
	ErrPoolFull       = errors.New("edge: management slot pool full")
	ErrIoError        = errors.New("edge: I/O error")
	ErrTimeout        = errors.New("edge: operation timed out")
)
