package mgmt

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestParseRequestSplitsMethodPathBody(t *testing.T) {
	method, path, body := parseRequest([]byte("POST /reload HTTP/1.0\r\nContent-Length: 3\r\n\r\nabc"))
	if method != "POST" || path != "/reload" || string(body) != "abc" {
		t.Fatalf("got (%q, %q, %q)", method, path, body)
	}
}

func TestParseRequestNoBody(t *testing.T) {
	method, path, _ := parseRequest([]byte("GET /metrics HTTP/1.0\r\n\r\n"))
	if method != "GET" || path != "/metrics" {
		t.Fatalf("got (%q, %q)", method, path)
	}
}

func TestDispatchStagesHandlerResponse(t *testing.T) {
	peer, fd := socketpair(t)
	defer unix.Close(peer)
	defer unix.Close(fd)

	s := NewSlot(4096, 4096)
	s.Assign(fd, time.Now())
	unix.Write(peer, []byte("GET /metrics HTTP/1.0\r\n\r\n"))
	for s.State == StateReading {
		s.Read(time.Now())
	}
	if s.State != StateReady {
		t.Fatalf("slot did not reach StateReady: %v", s.State)
	}

	var gotPath string
	dispatch(s, func(method, path string, body []byte) (int, []byte, string) {
		gotPath = path
		return 200, []byte("n3n_edge_decode_errors_total 0\n"), "text/plain"
	})

	if gotPath != "/metrics" {
		t.Fatalf("handler saw path %q, want /metrics", gotPath)
	}
	if s.State != StateSending {
		t.Fatalf("expected StateSending after dispatch, got %v", s.State)
	}

	for s.State == StateSending {
		if _, err := s.Write(time.Now()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	buf := make([]byte, 4096)
	n, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	got := string(buf[:n])
	if !strings.Contains(got, "200 OK") || !strings.Contains(got, "n3n_edge_decode_errors_total 0") {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestDispatchWithNilHandlerReturns501(t *testing.T) {
	peer, fd := socketpair(t)
	defer unix.Close(peer)
	defer unix.Close(fd)

	s := NewSlot(4096, 4096)
	s.Assign(fd, time.Now())
	unix.Write(peer, []byte("GET / HTTP/1.0\r\n\r\n"))
	for s.State == StateReading {
		s.Read(time.Now())
	}

	dispatch(s, nil)
	if s.State != StateSending {
		t.Fatalf("expected StateSending, got %v", s.State)
	}
}

