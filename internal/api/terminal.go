package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mustafasegf/pemasak-infra/internal/apierror"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The Control API and the projects it serves share one base domain, so
	// same-origin browser clients are the only expected caller; check
	// Origin loosely against that domain rather than allowing any origin.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host || strings.HasSuffix(u.Host, "."+r.Host)
	},
}

// handleTerminal upgrades to a WebSocket and pipes it into an interactive
// shell in the project's container (spec section 4.5). Framing is
// newline-delimited on the way in (each message is one line of input) and
// raw on the way out (container stdout/stderr bytes are forwarded as-is),
// resolving the Open Question about terminal framing in favor of the
// simplest client implementation.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	go func() {
		defer stdinW.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := stdinW.Write(append(data, '\n')); err != nil {
				return
			}
		}
	}()

	stdout := &wsWriter{conn: conn}
	if err := s.rt.AttachTerminal(r.Context(), p.ID, stdinR, stdout, 24, 80); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(apierror.Internal(err.Error()).Error()))
	}
}

// wsWriter adapts a *websocket.Conn into an io.Writer, one binary message
// per Write call, so container output can be streamed as it's produced.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
