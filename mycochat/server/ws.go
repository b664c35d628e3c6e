package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/media"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/memory"
)

// Message types sent to chat clients.
const (
	TypePartial = "partial"
	TypeDone    = "done"
	TypeError   = "error"
)

// Attachment is an uploaded file; Data is base64 in JSON.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// ChatRequest is one user turn sent over the websocket.
type ChatRequest struct {
	Text  string       `json:"text"`
	Files []Attachment `json:"files,omitempty"`
}

// ChatEvent is sent back for every reply update.
type ChatEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// chat upgrades to a websocket and handles turns one at a time until the client
// goes away.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	log := s.logger.With().Str("session_id", sess.ID()).Logger()
	log.Debug().Msg("chat connected")

	for {
		var req ChatRequest
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if err := json.Unmarshal(data, &req); err != nil {
			if conn.WriteJSON(ChatEvent{Type: TypeError, Error: "invalid JSON message"}) != nil {
				return
			}
			continue
		}
		if !s.turn(conn, r, sess, req) {
			return
		}
	}
}

// turn runs one pipeline turn and reports whether the connection is still usable.
func (s *Server) turn(conn *websocket.Conn, r *http.Request, sess *memory.Session, req ChatRequest) bool {
	files := make([]media.Resource, 0, len(req.Files))
	for i, f := range req.Files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("upload-%d", i+1)
		}
		files = append(files, media.Bytes(name, f.Data))
	}

	seq, err := s.pipeline.HandleTurn(r.Context(), sess, req.Text, files)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, memory.ErrEmptyTurn) {
			msg = "empty message"
		}
		return conn.WriteJSON(ChatEvent{Type: TypeError, Error: msg}) == nil
	}

	for reply := range seq {
		if err := conn.WriteJSON(ChatEvent{Type: TypePartial, Text: reply}); err != nil {
			s.logger.Debug().Err(err).Str("session_id", sess.ID()).Msg("client stopped reading")
			return false
		}
	}
	return conn.WriteJSON(ChatEvent{Type: TypeDone}) == nil
}
