// Package ipc implements the control-socket server the CLI/TUI fronts
// talk to: a Unix domain socket accepting one newline-terminated command
// per connection, grounded on the accept-loop/line-framing pattern of the
// original chat daemon's ipc.cpp.
package ipc

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/fuchengh/bitchat-clone/logger"
)

// Handlers dispatches the commands the control socket understands. Send
// and Connect report success so the server can reply OK/ERR; the rest are
// always-successful side effects. A nil handler makes that command reply
// ERR (Send, Connect, Disconnect) or is simply skipped (SetTail, Peers,
// Quit).
type Handlers struct {
	Send       func(text string) bool
	SetTail    func(on bool)
	Peers      func() []string // one formatted "<addr> rssi=<n> age_ms=<n>" line per peer
	Connect    func(address string) bool
	Disconnect func()
	Quit       func()
}

// Server listens on a Unix domain socket and dispatches one line per
// connection to Handlers, matching the original daemon's accept-one-line,
// close, accept-next behavior.
type Server struct {
	sockPath string
	handlers Handlers
	ln       net.Listener
	quit     chan struct{}
}

// New constructs an unstarted server bound to sockPath once Start is
// called.
func New(sockPath string, handlers Handlers) *Server {
	return &Server{sockPath: sockPath, handlers: handlers, quit: make(chan struct{})}
}

// Start binds and begins accepting connections in a background goroutine.
// It removes a stale socket file at sockPath before binding, mirroring
// start_server's unlink-before-bind step.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.sockPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(s.sockPath)

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}
	s.ln = ln

	logger.Info("ipc", "listening on %s", s.sockPath)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() {
	close(s.quit)
	if s.ln != nil {
		s.ln.Close()
	}
	_ = os.Remove(s.sockPath)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				logger.Error("ipc", "accept: %v", err)
				return
			}
		}
		quitRequested := s.handleConn(conn)
		if quitRequested {
			if s.handlers.Quit != nil {
				s.handlers.Quit()
			}
			return
		}
	}
}

// handleConn reads the first line of one connection, dispatches it, writes
// a reply, and closes the connection; it returns true if the line was
// QUIT.
func (s *Server) handleConn(conn net.Conn) bool {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return false
	}
	line := strings.TrimRight(scanner.Text(), "\r")

	switch {
	case line == "QUIT":
		logger.Info("ipc", "received QUIT")
		reply(conn, "OK")
		return true

	case line == "TAIL on":
		if s.handlers.SetTail != nil {
			s.handlers.SetTail(true)
		}
		reply(conn, "OK")

	case line == "TAIL off":
		if s.handlers.SetTail != nil {
			s.handlers.SetTail(false)
		}
		reply(conn, "OK")

	case strings.HasPrefix(line, "SEND "):
		text := line[len("SEND "):]
		if s.handlers.Send != nil && s.handlers.Send(text) {
			reply(conn, "OK")
		} else {
			reply(conn, "ERR send failed")
		}

	case line == "PEERS":
		if s.handlers.Peers != nil {
			for _, l := range s.handlers.Peers() {
				conn.Write([]byte(l + "\n"))
			}
		}
		reply(conn, "OK")

	case strings.HasPrefix(line, "CONNECT "):
		addr := strings.TrimSpace(line[len("CONNECT "):])
		if s.handlers.Connect != nil && s.handlers.Connect(addr) {
			reply(conn, "OK")
		} else {
			reply(conn, "ERR handover not supported in this role")
		}

	case line == "DISCONNECT":
		if s.handlers.Disconnect != nil {
			s.handlers.Disconnect()
			reply(conn, "OK")
		} else {
			reply(conn, "ERR handover not supported in this role")
		}

	default:
		logger.Warn("ipc", "unrecognized command: %q", line)
		reply(conn, "ERR bad command")
	}
	return false
}

func reply(conn net.Conn, status string) {
	conn.Write([]byte(status + "\n"))
}

// SendLine connects to sockPath and writes a single newline-terminated
// line, per send_line; used by CLI front-ends.
func SendLine(sockPath, line string) error {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(line + "\n"))
	return err
}
