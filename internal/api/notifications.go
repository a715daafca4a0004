package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zaibshamsi/Brofessor/internal/core"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

const sseKeepAlive = 25 * time.Second

type notificationsResponse struct {
	Notifications []store.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
}

func newNotificationsResponse(items []store.Notification) notificationsResponse {
	unread := 0
	for _, n := range items {
		if !n.IsRead {
			unread++
		}
	}
	return notificationsResponse{Notifications: items, UnreadCount: unread}
}

func (h *APIHandler) notifications(r *http.Request) (*core.NotificationController, error) {
	return h.Notifications.For(r.Context(), userFromContext(r.Context()))
}

func (h *APIHandler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	c, err := h.notifications(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newNotificationsResponse(c.Notifications()))
}

// StreamNotificationsHandler pushes the viewer's list every time it changes.
func (h *APIHandler) StreamNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	c, err := h.notifications(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	stream, ok := startSSE(w)
	if !ok {
		return
	}

	updates := c.Subscribe(r.Context())
	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case items, open := <-updates:
			if !open {
				return
			}
			if err := stream.send("notifications", newNotificationsResponse(items)); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.comment(); err != nil {
				return
			}
		}
	}
}

type sendNotificationRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) SendNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	c, err := h.notifications(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := c.Send(r.Context(), req.Message); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// mutateNotifications runs op against the viewer's controller and answers
// with the resulting list.
func (h *APIHandler) mutateNotifications(w http.ResponseWriter, r *http.Request, op func(c *core.NotificationController) error) {
	c, err := h.notifications(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := op(c); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newNotificationsResponse(c.Notifications()))
}

func (h *APIHandler) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	h.mutateNotifications(w, r, func(c *core.NotificationController) error { return c.MarkRead(r.Context(), id) })
}

func (h *APIHandler) MarkAllNotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	h.mutateNotifications(w, r, func(c *core.NotificationController) error { return c.MarkAllRead(r.Context()) })
}

func (h *APIHandler) ClearNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	h.mutateNotifications(w, r, func(c *core.NotificationController) error { return c.Clear(r.Context(), id) })
}

func (h *APIHandler) ClearAllNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	h.mutateNotifications(w, r, func(c *core.NotificationController) error { return c.ClearAll(r.Context()) })
}
