package supernode

import (
	"fmt"
	"strings"

	"github.com/n3n-go/edge/internal/peer"
	"github.com/n3n-go/edge/internal/snmp"
)

const expfmtContentType = "text/plain; version=0.0.4"

// handleMgmt answers the supernode's management surface: /metrics in
// Prometheus text exposition format and /status as a human-readable
// registered-edge summary, mirroring the edge role's own /metrics and
// /status routes.
func (s *Supernode) handleMgmt(method, path string, body []byte) (status int, respBody []byte, contentType string) {
	switch path {
	case "/metrics":
		out, err := renderMetrics(snmp.Registry(s.counters))
		if err != nil {
			return 500, []byte(err.Error()), "text/plain"
		}
		return 200, out, expfmtContentType

	case "/status":
		return 200, []byte(s.statusReport()), "text/plain"

	default:
		return 404, []byte("not found"), "text/plain"
	}
}

func (s *Supernode) statusReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "community: %s\n", s.cfg.CommunityName)
	fmt.Fprintf(&b, "allow_routing: %v\n", s.cfg.AllowRouting)
	fmt.Fprintf(&b, "registered edges: %d\n", s.edges.Len())
	s.edges.Each(func(rec *peer.Record) {
		fmt.Fprintf(&b, "  %s %s last_seen=%s\n", rec.MAC, rec.Sock, rec.LastSeen.Format("15:04:05"))
	})
	return b.String()
}
