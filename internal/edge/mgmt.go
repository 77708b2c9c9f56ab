package edge

import (
	"fmt"
	"strings"

	"github.com/n3n-go/edge/internal/snmp"
)

// handleMgmt answers the management HTTP-on-TCP surface from spec.md §4.2:
// /metrics in Prometheus text exposition format and /status as a small
// human-readable peer/supernode summary, matching n3n's own distinction
// between machine-readable and operator-facing management output.
func (e *Edge) handleMgmt(method, path string, body []byte) (status int, respBody []byte, contentType string) {
	switch path {
	case "/metrics":
		out, err := renderMetrics(snmp.Registry(e.counters))
		if err != nil {
			return 500, []byte(err.Error()), "text/plain"
		}
		return 200, out, expfmtContentType

	case "/status":
		return 200, []byte(e.statusReport()), "text/plain"

	default:
		return 404, []byte("not found"), "text/plain"
	}
}

const expfmtContentType = "text/plain; version=0.0.4"

func (e *Edge) statusReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mac: %s\n", e.mac)
	if e.current != nil {
		fmt.Fprintf(&b, "supernode: %s (%s) pending_ack=%v\n", e.current.Hostname, e.current.Sock, e.pendingAck)
	} else {
		b.WriteString("supernode: none\n")
	}
	fmt.Fprintf(&b, "peers: %d\n", e.peers.Len())
	for _, sn := range e.supernodes.All() {
		fmt.Fprintf(&b, "  supernode %s score=%d last_seen=%s\n", sn.Hostname, sn.Score, sn.LastSeen.Format("15:04:05"))
	}
	return b.String()
}
