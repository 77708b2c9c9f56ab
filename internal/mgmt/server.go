package mgmt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Handler answers one management request (method, path, body) with a
// status code, response body, and content type. It is the Go analogue of
// n3n's mgmt_handler dispatch in supernode/edge main loops.
type Handler func(method, path string, body []byte) (status int, respBody []byte, contentType string)

// Counters is the subset of the management pool's reactor events the
// caller wants reported, e.g. into the shared snmp.Counters the way
// DecodeErrors/CryptoFailures/ReplayRejected already are. Either field may
// be nil to skip that signal.
type Counters struct {
	// OnPoolFull is invoked once per accept refused because every slot was
	// in use, per spec.md §4.2's load-shedding rule.
	OnPoolFull func()
	// OnTimeouts is invoked with the number of slots CloseIdle closed for
	// inactivity on a given pass, per spec.md line 81's counter
	// requirement.
	OnTimeouts func(count int)
}

// Serve drives the poll-accept-sweep cycle described in spec.md §4.2 until
// done is closed. It is the reactor loop connslot.c's callers hand-roll
// around connslot_loop(); here it is a reusable driver so both the edge and
// supernode roles share one implementation.
func Serve(p *Pool, handler Handler, closer func(fd int) error, done <-chan struct{}, counters *Counters) error {
	closeIdle := func() {
		if closed := p.CloseIdle(time.Now(), closer); closed > 0 && counters != nil && counters.OnTimeouts != nil {
			counters.OnTimeouts(closed)
		}
	}

	for {
		select {
		case <-done:
			return nil
		default:
		}

		fds := p.PollFDs()
		if len(fds) == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		n, err := unix.Poll(fds, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			closeIdle()
			continue
		}

		readyRead := make(map[int]bool, len(fds))
		readyWrite := make(map[int]bool, len(fds))
		for _, pfd := range fds {
			if pfd.Revents&unix.POLLIN != 0 {
				readyRead[int(pfd.Fd)] = true
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				readyWrite[int(pfd.Fd)] = true
			}
		}

		for _, lfd := range p.ListenFDs() {
			if readyRead[lfd] {
				if idx := p.Accept(lfd, acceptFD, setNonblockFD); idx == -2 && counters != nil && counters.OnPoolFull != nil {
					counters.OnPoolFull()
				}
			}
		}

		p.Sweep(readyRead, readyWrite, func(s *Slot) { dispatch(s, handler) }, closer)
		closeIdle()
	}
}

func acceptFD(listenFD int) (int, error) {
	nfd, _, err := unix.Accept(listenFD)
	return nfd, err
}

func setNonblockFD(fd int) error {
	return unix.SetNonblock(fd, true)
}

func dispatch(s *Slot, handler Handler) {
	method, path, body := parseRequest(s.Request.Bytes())

	if handler == nil {
		s.StageReply(statusLine(501, "text/plain", 0), nil)
		return
	}

	status, respBody, contentType := handler(method, path, body)
	if contentType == "" {
		contentType = "text/plain"
	}
	s.StageReply(statusLine(status, contentType, len(respBody)), respBody)
}

func statusLine(status int, contentType string, bodyLen int) string {
	return fmt.Sprintf("HTTP/1.0 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, statusText(status), contentType, bodyLen)
}

func statusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 501:
		return "Not Implemented"
	default:
		return "Error"
	}
}

// parseRequest splits a raw slot request buffer into method, path, and
// body, tolerant of the minimal request lines real n3n management clients
// send ("GET /metrics HTTP/1.0").
func parseRequest(buf []byte) (method, path string, body []byte) {
	idx := bytes.Index(buf, []byte(headerEnd))
	var headerPart []byte
	if idx < 0 {
		headerPart = buf
	} else {
		headerPart = buf[:idx]
		body = buf[idx+len(headerEnd):]
	}

	line := headerPart
	if nl := bytes.IndexByte(headerPart, '\n'); nl >= 0 {
		line = headerPart[:nl]
	}
	fields := strings.Fields(strings.TrimRight(string(line), "\r"))
	if len(fields) >= 2 {
		method, path = fields[0], fields[1]
	}
	return method, path, body
}
