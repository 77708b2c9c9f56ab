// Command edge runs the n3n-style overlay edge node: it registers with a
// supernode, relays Ethernet frames between a local TAP device and the
// overlay, and answers a management HTTP surface, per spec.md. Its
// bootstrap shape is grounded on kcptun's client/main.go: a single
// cli.App, a log-file redirect option, and a blocking run loop guarded by
// pkg/errors-wrapped fatal checks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/n3n-go/edge/internal/config"
	"github.com/n3n-go/edge/internal/edge"
	"github.com/n3n-go/edge/internal/snmp"
	"github.com/n3n-go/edge/internal/tracelog"
)

// VERSION is injected by buildflags, matching kcptun's own VERSION var.
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "edge"
	app.Usage = "n3n-style overlay edge node"
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
		log.Infof("supernodes: %v", cfg.Supernodes)
		log.Infof("tuntap: %s mode=%s", cfg.TuntapName, cfg.TuntapIPMode)
		log.Infof("allow_p2p: %v allow_routing: %v", cfg.AllowP2P, cfg.AllowRouting)

		e, err := edge.New(cfg, log)
		if err != nil {
			log.Errorf("startup: %+v", err)
			return err
		}
		defer e.Close()

		go snmpLogger(cfg, e)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return e.Run(ctx)
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func snmpLogger(cfg *config.Config, e *edge.Edge) {
	snmp.Logger(e.Counters(), cfg.SnmpLog, time.Duration(cfg.SnmpPeriod)*time.Second)
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
