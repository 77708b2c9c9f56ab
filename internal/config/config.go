// Package config builds the edge runtime's configuration the way kcptun's
// client/main.go and server/config.go do: a github.com/urfave/cli flag set
// provides defaults and shell overrides, and an optional JSON file
// (parsed with the same parseJSONConfig idiom) overrides those when given
// a path with --config, letting operators keep a checked-in config alongside ad-hoc
// flags.
package config

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/n3n-go/edge/internal/transform"
	"github.com/n3n-go/edge/internal/tuntap"
)

// Config holds every option spec.md §6 names plus the ambient options
// (log, mtu, socket buffers) the teacher's own Config carries alongside
// its domain fields.
type Config struct {
	CommunityName string `json:"community_name"`
	EncryptKey    string `json:"encrypt_key"`
	TransopID     uint16 `json:"transop_id"`

	AllowP2P              bool `json:"allow_p2p"`
	AllowRouting          bool `json:"allow_routing"`
	DisablePMTUDiscovery  bool `json:"disable_pmtu_discovery"`
	DropMulticast         bool `json:"drop_multicast"`

	TuntapName   string `json:"tuntap_name"`
	TuntapIPMode string `json:"tuntap_ip_mode"`
	TuntapIP     string `json:"tuntap_ip"`
	TuntapMask   string `json:"tuntap_mask"`

	BindAddress string `json:"bind_address"`
	MgmtPort    int    `json:"mgmt_port"`

	Supernodes        []string `json:"supernode"`
	RegisterInterval  int      `json:"register_interval"`
	RegisterTTL       int      `json:"register_ttl"`
	TOS               int      `json:"tos"`

	MTU     int `json:"mtu"`
	SockBuf int `json:"sockbuf"`

	Log        string `json:"log"`
	SnmpLog    string `json:"snmplog"`
	SnmpPeriod int    `json:"snmpperiod"`
}

// ErrNoCommunity is returned by Validate when community_name is empty;
// spec.md §4.1 requires it on every wire message.
var ErrNoCommunity = errors.New("config: community_name is required")

// ErrNoSupernode is returned by ValidateEdge when no supernode is
// configured; an edge with nothing to register against can never join the
// overlay.
var ErrNoSupernode = errors.New("config: at least one supernode is required")

// Validate applies the required-field and range checks common to both
// roles: a community name, and sane register timing (used by the edge
// role for its own refresh cadence and by the supernode role as its
// staleness-sweep interval).
func (c *Config) Validate() error {
	if c.CommunityName == "" {
		return ErrNoCommunity
	}
	if len(c.CommunityName) > 20 {
		return errors.Errorf("config: community_name %q exceeds 20 bytes", c.CommunityName)
	}
	if c.RegisterInterval <= 0 {
		return errors.New("config: register_interval must be positive")
	}
	if c.RegisterTTL < c.RegisterInterval {
		return errors.New("config: register_ttl must be >= register_interval")
	}
	return nil
}

// ValidateEdge additionally requires at least one supernode, per spec.md
// §6; the supernode role itself has nothing to register against and
// skips this check.
func (c *Config) ValidateEdge() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Supernodes) == 0 {
		return ErrNoSupernode
	}
	return nil
}

// RegisterIntervalDuration converts the integer-seconds field used on the
// wire into a time.Duration for timer scheduling.
func (c *Config) RegisterIntervalDuration() time.Duration {
	return time.Duration(c.RegisterInterval) * time.Second
}

// RegisterTTLDuration is the peer staleness threshold as a Duration.
func (c *Config) RegisterTTLDuration() time.Duration {
	return time.Duration(c.RegisterTTL) * time.Second
}

// TuntapMode resolves the configured string into a tuntap.IPMode.
func (c *Config) TuntapMode() tuntap.IPMode {
	switch c.TuntapIPMode {
	case "dhcp":
		return tuntap.IPModeDHCP
	case "supernode":
		return tuntap.IPModeSupernodeAssigned
	default:
		return tuntap.IPModeStatic
	}
}

// TransformID resolves TransopID into the transform package's typed ID.
func (c *Config) TransformID() transform.ID {
	return transform.ID(c.TransopID)
}

// MgmtAddress returns the host:port the management listener binds to: the
// host portion of BindAddress (or all interfaces if unset) combined with
// MgmtPort, per spec.md §6.
func (c *Config) MgmtAddress() string {
	host, _, err := net.SplitHostPort(c.BindAddress)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(c.MgmtPort))
}

func parseJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(cfg)
}

// Flags lists the CLI surface, grounded on client/main.go's myApp.Flags
// construction. Both cmd/edge and cmd/supernode build their cli.App from
// this shared slice, adding role-specific flags where needed.
func Flags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "community, c", Usage: "overlay community name (max 20 bytes)"},
		cli.StringFlag{Name: "key, k", Usage: "pre-shared community encryption key", EnvVar: "N3N_EDGE_KEY"},
		cli.StringFlag{Name: "transop", Value: "aes", Usage: "null, aes, twofish, chacha20poly1305"},
		cli.BoolFlag{Name: "allow-p2p", Usage: "permit direct peer-to-peer traffic once both ends confirm reachability"},
		cli.BoolFlag{Name: "allow-routing", Usage: "permit forwarding frames not addressed to this edge (supernode relay/routing mode)"},
		cli.BoolFlag{Name: "disable-pmtu-discovery"},
		cli.BoolFlag{Name: "drop-multicast"},
		cli.StringFlag{Name: "tuntap-name", Value: "edge0"},
		cli.StringFlag{Name: "tuntap-ip-mode", Value: "static", Usage: "static, dhcp, supernode"},
		cli.StringFlag{Name: "tuntap-ip"},
		cli.StringFlag{Name: "tuntap-mask", Value: "255.255.255.0"},
		cli.StringFlag{Name: "bind", Value: "0.0.0.0:0"},
		cli.IntFlag{Name: "mgmt-port", Value: 5644},
		cli.StringSliceFlag{Name: "supernode", Usage: "host:port of a supernode, repeatable"},
		cli.IntFlag{Name: "register-interval", Value: 20, Usage: "seconds between REGISTER_SUPER refreshes"},
		cli.IntFlag{Name: "register-ttl", Value: 60, Usage: "seconds before an unrefreshed peer is stale"},
		cli.IntFlag{Name: "tos", Value: 0},
		cli.IntFlag{Name: "mtu", Value: 1290},
		cli.IntFlag{Name: "sockbuf", Value: 4194304},
		cli.StringFlag{Name: "log", Usage: "log file path, default stderr"},
		cli.StringFlag{Name: "snmplog", Usage: "collect counters to file, aware of time format, like ./snmp-20060102.log"},
		cli.IntFlag{Name: "snmpperiod", Value: 60},
		cli.StringFlag{Name: "config", Usage: "config from JSON file, overrides the flags above"},
	}
}

// FromContext builds a Config from CLI flags, then applies a JSON override
// file when -config is given, exactly the order client/main.go's Action
// applies parseJSONConfig after populating config from c.String/.Int/.Bool.
func FromContext(c *cli.Context) (*Config, error) {
	cfg := &Config{
		CommunityName:        c.String("community"),
		EncryptKey:           c.String("key"),
		TransopID:            uint16(transopIDFromName(c.String("transop"))),
		AllowP2P:             c.Bool("allow-p2p"),
		AllowRouting:         c.Bool("allow-routing"),
		DisablePMTUDiscovery: c.Bool("disable-pmtu-discovery"),
		DropMulticast:        c.Bool("drop-multicast"),
		TuntapName:           c.String("tuntap-name"),
		TuntapIPMode:         c.String("tuntap-ip-mode"),
		TuntapIP:             c.String("tuntap-ip"),
		TuntapMask:           c.String("tuntap-mask"),
		BindAddress:          c.String("bind"),
		MgmtPort:             c.Int("mgmt-port"),
		Supernodes:           c.StringSlice("supernode"),
		RegisterInterval:     c.Int("register-interval"),
		RegisterTTL:          c.Int("register-ttl"),
		TOS:                  c.Int("tos"),
		MTU:                  c.Int("mtu"),
		SockBuf:              c.Int("sockbuf"),
		Log:                  c.String("log"),
		SnmpLog:              c.String("snmplog"),
		SnmpPeriod:           c.Int("snmpperiod"),
	}

	if path := c.String("config"); path != "" {
		if err := parseJSONConfig(cfg, path); err != nil {
			return nil, errors.Wrap(err, "config: reading "+path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func transopIDFromName(name string) transform.ID {
	switch name {
	case "aes":
		return transform.IDAES
	case "twofish":
		return transform.IDTwofish
	case "chacha20poly1305":
		return transform.IDChaCha20Poly1305
	default:
		return transform.IDNull
	}
}
