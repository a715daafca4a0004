package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zaibshamsi/Brofessor/internal/core"
	"github.com/zaibshamsi/Brofessor/internal/utils"
)

type messageView struct {
	ID       string          `json:"id"`
	Sender   core.Sender     `json:"sender"`
	Text     string          `json:"text"`
	Segments []utils.Segment `json:"segments"`
}

type snapshotView struct {
	SessionID    string            `json:"session_id"`
	State        core.SessionState `json:"state"`
	PendingOffer string            `json:"pending_offer,omitempty"`
	Messages     []messageView     `json:"messages"`
}

func newSnapshotView(s core.Snapshot) snapshotView {
	view := snapshotView{
		SessionID:    s.SessionID,
		State:        s.State,
		PendingOffer: s.PendingOffer,
		Messages:     make([]messageView, len(s.Messages)),
	}
	for i, m := range s.Messages {
		view.Messages[i] = messageView{ID: m.ID, Sender: m.Sender, Text: m.Text, Segments: utils.ParseLinks(m.Text)}
	}
	return view
}

func (h *APIHandler) session(r *http.Request) (*core.Session, error) {
	return h.Sessions.Get(chi.URLParam(r, "sessionID"), userFromContext(r.Context()).ID)
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Create(userFromContext(r.Context()).ID)
	respondWithJSON(w, http.StatusCreated, newSnapshotView(sess.Snapshot()))
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newSnapshotView(sess.Snapshot()))
}

func (h *APIHandler) ResetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	sess.Reset()
	respondWithJSON(w, http.StatusOK, newSnapshotView(sess.Snapshot()))
}

// DeleteSessionHandler ends a session, cancelling any turn in flight.
func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Remove(chi.URLParam(r, "sessionID"), userFromContext(r.Context()).ID); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessageHandler runs one turn and streams transcript snapshots as
// server-sent events until the turn ends. The turn itself is not tied to the
// request: a client that disconnects does not cancel it, only Reset does.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}
	if sess.State() == core.StateGenerating {
		h.respondWithError(w, r, core.ErrBusy)
		return
	}

	stream, ok := startSSE(w)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	updates := sess.Subscribe(ctx)

	done := make(chan error, 1)
	go func() {
		done <- sess.Submit(context.WithoutCancel(r.Context()), req.Content)
	}()

	for {
		select {
		case snap, open := <-updates:
			if !open {
				return
			}
			if err := stream.send("snapshot", newSnapshotView(snap)); err != nil {
				return
			}
		case err := <-done:
			if err != nil {
				_ = stream.send("error", map[string]string{"error": err.Error()})
				return
			}
			_ = stream.send("done", newSnapshotView(sess.Snapshot()))
			return
		}
	}
}
