// Package ws terminates client connections. Frames are JSON text messages;
// the reader loop dispatches into the game server and the writer goroutine
// drains the session's outbound channel.
package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shardworld/internal/game/server"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

type Server struct {
	game *server.Server
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(game *server.Server, logger *log.Logger) *Server {
	return &Server{
		game: game,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler serves /v1/ws?seed=<seed>. The bearer token, if any, comes from
// the Authorization header or a token query parameter.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		seed := strings.TrimSpace(r.URL.Query().Get("seed"))
		if seed == "" {
			http.Error(rw, "missing seed", http.StatusBadRequest)
			return
		}
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connID := uuid.NewString()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess, welcome, err := s.game.Connect(ctx, connID, seed, token)
		if err != nil {
			s.log.Printf("connect: %v", err)
			return
		}
		defer s.game.Disconnect(context.Background(), connID)

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(welcome); err != nil {
			return
		}

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.Out():
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			s.game.Dispatch(ctx, sess, msg)
		}
	}
}
