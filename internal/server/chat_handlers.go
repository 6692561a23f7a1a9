package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/falaai/server/internal/agent/graph/conversations"
	"github.com/falaai/server/internal/chat"
	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/session"
)

// identity resolves who is chatting, issuing an anonymous id on first use.
func identity(r *http.Request) conversations.Identity {
	sess := session.FromContext(r.Context())
	if uid, ok := sess.UserID(); ok {
		return conversations.Identity{UserID: uid}
	}
	return conversations.Identity{AnonID: sess.EnsureAnonID()}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := s.deps.Chat.Send(r.Context(), identity(r), in.Message)
	if errors.Is(err, chat.ErrUnverified) {
		writeJSON(w, http.StatusForbidden, chatResponse{Response: chat.UnverifiedChatMessage})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply, Language: chat.Language})
}

func (s *Server) handleResetChat(w http.ResponseWriter, r *http.Request) {
	s.deps.Chat.Reset(r.Context(), identity(r))
	writeJSON(w, http.StatusOK, map[string]string{"message": chat.ResetMessage})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	uid, _ := session.FromContext(r.Context()).UserID()
	writeJSON(w, http.StatusOK, s.deps.Chat.Conversations(r.Context(), uid))
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, r, errx.BadRequest("Identificador de conversa inválido."))
		return
	}
	uid, _ := session.FromContext(r.Context()).UserID()
	msgs, err := s.deps.Chat.Messages(r.Context(), uid, convID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
