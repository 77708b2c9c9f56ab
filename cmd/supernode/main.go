// Command supernode runs the n3n-style overlay supernode: it answers
// edges' REGISTER_SUPER requests, maintains the registered-edge table for
// a community, and relays traffic between edges that are not directly
// P2P-connected, per spec.md §4.8. Its bootstrap shape is grounded on
// kcptun's server/main.go: a single cli.App and a blocking run loop
// guarded by pkg/errors-wrapped fatal checks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/n3n-go/edge/internal/config"
	"github.com/n3n-go/edge/internal/snmp"
	"github.com/n3n-go/edge/internal/supernode"
	"github.com/n3n-go/edge/internal/tracelog"
)

// VERSION is injected by buildflags, matching kcptun's own VERSION var.
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "supernode"
	app.Usage = "n3n-style overlay supernode"
	app.Version = VERSION
	app.Flags = append(config.Flags(), cli.StringFlag{
		Name:  "loglevel",
		Value: "info",
		Usage: "error, warning, info, debug",
	})

	app.Action = func(c *cli.Context) error {
		log := tracelog.New(parseLevel(c.String("loglevel")))
		if logfile := c.String("log"); logfile != "" {
			if err := log.SetOutputFile(logfile); err != nil {
				return err
			}
		}

		cfg, err := config.FromContext(c)
		if err != nil {
			log.Errorf("configuration: %+v", err)
			return err
		}

		log.Infof("version: %s", VERSION)
		log.Infof("community: %s", cfg.CommunityName)
		log.Infof("allow_routing: %v", cfg.AllowRouting)
		log.Infof("bind: %s mgmt: %s", cfg.BindAddress, cfg.MgmtAddress())

		sn, err := supernode.New(cfg, log)
		if err != nil {
			log.Errorf("startup: %+v", err)
			return err
		}
		defer sn.Close()

		go snmpLogger(cfg, sn)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return sn.Run(ctx)
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func snmpLogger(cfg *config.Config, sn *supernode.Supernode) {
	snmp.Logger(sn.Counters(), cfg.SnmpLog, time.Duration(cfg.SnmpPeriod)*time.Second)
}

func parseLevel(s string) tracelog.Level {
	switch s {
	case "error":
		return tracelog.Error
	case "warning":
		return tracelog.Warning
	case "debug":
		return tracelog.Debug
	default:
		return tracelog.Info
	}
}
