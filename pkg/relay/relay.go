// Package relay implements the real-time channel: a per-connection echo
// loop over a websocket. It holds no business state beyond the user the
// connection was opened for.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Greeting is the first frame sent on every connection
const Greeting = "Hello!\n"

const writeWait = 10 * time.Second

// Relay upgrades requests and runs one echo loop per connection
type Relay struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a relay
func New(logger zerolog.Logger) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// ServeHTTP requires a user parameter, upgrades the connection and serves
// it until the peer goes away
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Error: No user specified\n")
		return
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client
		rl.logger.Debug().Err(err).Str("user", user).Msg("Upgrade failed")
		return
	}
	defer conn.Close()

	logger := rl.logger.With().Str("user", user).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("Relay connection opened")

	err = serve(r.Context(), conn)
	if err != nil && !errors.Is(err, context.Canceled) &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Debug().Err(err).Msg("Relay connection ended")
	}
	logger.Info().Msg("Relay connection closed")
}

type frame struct {
	kind int
	data []byte
}

// serve greets the peer, then echoes text frames until the connection
// closes or ctx is done. A reader goroutine feeds inbound frames to this
// loop, which owns every data write; pongs go out through WriteControl.
func serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetPingHandler(func(data string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if err := write(conn, []byte(Greeting)); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	inbound := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- frame{kind: mt, data: data}:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-readErr:
			return err
		case f := <-inbound:
			if f.kind != websocket.TextMessage {
				continue
			}
			if err := write(conn, f.data); err != nil {
				return err
			}
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
