// Package snmp exports the runtime counters named in spec.md §7
// (DecodeError, CryptoFailed, ReplayRejected, slot timeouts, resolver
// errors) two ways, following kcptun's own dual approach: a periodic CSV
// snapshot (grounded line-for-line on std/snmp.go's ticker +
// filepath.Split + encoding/csv idiom) and a Prometheus registry (grounded
// on runZeroInc-sockstats's go.mod and on syncthing's use of the same
// client library) served from the management HTTP surface.
package snmp

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters holds every counter spec.md §7 requires callers to increment on
// non-fatal error paths, plus the slot-timeout counter from spec.md §4.2.
type Counters struct {
	DecodeErrors    atomic.Int64
	CryptoFailures  atomic.Int64
	ReplayRejected  atomic.Int64
	SlotTimeouts    atomic.Int64
	ResolverErrors  atomic.Int64
	PoolFullEvents  atomic.Int64
}

// Header returns the CSV column names, mirroring kcp.DefaultSnmp.Header().
func (c *Counters) Header() []string {
	return []string{
		"DecodeErrors", "CryptoFailures", "ReplayRejected",
		"SlotTimeouts", "ResolverErrors", "PoolFullEvents",
	}
}

// ToSlice returns the current counter values as strings, mirroring
// kcp.DefaultSnmp.ToSlice().
func (c *Counters) ToSlice() []string {
	return []string{
		fmt.Sprint(c.DecodeErrors.Load()),
		fmt.Sprint(c.CryptoFailures.Load()),
		fmt.Sprint(c.ReplayRejected.Load()),
		fmt.Sprint(c.SlotTimeouts.Load()),
		fmt.Sprint(c.ResolverErrors.Load()),
		fmt.Sprint(c.PoolFullEvents.Load()),
	}
}

// Logger periodically appends a CSV row of counter values to path,
// formatting the filename with time.Format the way std/snmp.go does
// (e.g. "./snmp-20060102.log").
func Logger(counters *Counters, path string, interval time.Duration) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, counters.Header()...)); err != nil {
				log.Println(err)
			}
		}
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, counters.ToSlice()...)); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}

// Registry builds a Prometheus registry exposing every Counters field as a
// gauge function, served by the management HTTP surface at /metrics.
func Registry(counters *Counters) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	register := func(name, help string, get func() int64) {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: "n3n_edge", Name: name, Help: help},
			func() float64 { return float64(get()) },
		))
	}
	register("decode_errors_total", "Malformed or unrecognized wire messages dropped.", counters.DecodeErrors.Load)
	register("crypto_failures_total", "Transform decode failures.", counters.CryptoFailures.Load)
	register("replay_rejected_total", "REGISTER-class messages rejected by replay protection.", counters.ReplayRejected.Load)
	register("slot_timeouts_total", "Management connection slots closed for inactivity.", counters.SlotTimeouts.Load)
	register("resolver_errors_total", "Supernode hostname resolutions that failed.", counters.ResolverErrors.Load)
	register("pool_full_events_total", "Accepts refused because the slot pool was full.", counters.PoolFullEvents.Load)
	return reg
}
