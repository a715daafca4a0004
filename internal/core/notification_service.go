package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/mailer"
	"github.com/zaibshamsi/Brofessor/internal/metrics"
	"github.com/zaibshamsi/Brofessor/internal/realtime"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

type NotificationStore interface {
	ListNotifications(ctx context.Context, userID int64) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID int64, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) error
	DeleteUserNotification(ctx context.Context, userID int64, notificationID string) error
	DeleteAllUserNotifications(ctx context.Context, userID int64) error
	BroadcastNotification(ctx context.Context, message, senderEmail string) (*store.Broadcast, error)
	ListUserEmails(ctx context.Context) ([]string, error)
}

const emailTimeout = 2 * time.Minute

// NotificationController mirrors one viewer's notification list. Mutations
// are applied locally first; when the store call fails the list is refetched.
type NotificationController struct {
	log    *logger.Logger
	viewer *store.User
	store  NotificationStore
	bus    realtime.Bus
	mailer mailer.Mailer

	mu    sync.RWMutex
	items []store.Notification

	emails    sync.WaitGroup
	observers observers[[]store.Notification]
}

func NewNotificationController(log *logger.Logger, viewer *store.User, st NotificationStore, bus realtime.Bus, m mailer.Mailer) *NotificationController {
	if m == nil {
		m = mailer.Noop{}
	}
	return &NotificationController{
		log:    log.With("service", "NotificationController", "viewer", viewer.ID),
		viewer: viewer,
		store:  st,
		bus:    bus,
		mailer: m,
		items:  []store.Notification{},
	}
}

func (c *NotificationController) Refresh(ctx context.Context) error {
	list, err := c.store.ListNotifications(ctx, c.viewer.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}
	c.update(func([]store.Notification) []store.Notification { return list })
	return nil
}

// update replaces the mirror and publishes the new snapshot. The lock is held
// across publish so observers see snapshots in mutation order.
func (c *NotificationController) update(fn func([]store.Notification) []store.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = fn(c.items)
	if c.items == nil {
		c.items = []store.Notification{}
	}
	c.observers.publish(c.snapshotLocked())
}

func (c *NotificationController) snapshotLocked() []store.Notification {
	return append([]store.Notification{}, c.items...)
}

func (c *NotificationController) Notifications() []store.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *NotificationController) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// Subscribe streams list snapshots, starting with the current one, until ctx
// is done.
func (c *NotificationController) Subscribe(ctx context.Context) <-chan []store.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.observers.subscribe(ctx, c.snapshotLocked())
}

func (c *NotificationController) MarkRead(ctx context.Context, id string) error {
	c.update(func(items []store.Notification) []store.Notification {
		out := make([]store.Notification, len(items))
		for i, n := range items {
			if n.ID == id {
				n.IsRead = true
			}
			out[i] = n
		}
		return out
	})
	return c.reconcile(ctx, "mark notification as read", c.store.MarkNotificationRead(ctx, c.viewer.ID, id))
}

func (c *NotificationController) MarkAllRead(ctx context.Context) error {
	c.update(func(items []store.Notification) []store.Notification {
		out := make([]store.Notification, len(items))
		for i, n := range items {
			n.IsRead = true
			out[i] = n
		}
		return out
	})
	return c.reconcile(ctx, "mark all notifications as read", c.store.MarkAllNotificationsRead(ctx, c.viewer.ID))
}

func (c *NotificationController) Clear(ctx context.Context, id string) error {
	c.update(func(items []store.Notification) []store.Notification {
		out := make([]store.Notification, 0, len(items))
		for _, n := range items {
			if n.ID != id {
				out = append(out, n)
			}
		}
		return out
	})
	return c.reconcile(ctx, "clear notification", c.store.DeleteUserNotification(ctx, c.viewer.ID, id))
}

func (c *NotificationController) ClearAll(ctx context.Context) error {
	c.update(func([]store.Notification) []store.Notification { return nil })
	return c.reconcile(ctx, "clear all notifications", c.store.DeleteAllUserNotifications(ctx, c.viewer.ID))
}

// reconcile refetches the authoritative list after a failed store call and
// still reports the failure to the caller.
func (c *NotificationController) reconcile(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	c.log.Warn("Notification update failed, refetching", "op", op, "error", err)
	if rerr := c.Refresh(ctx); rerr != nil {
		c.log.Error("Failed to refetch notifications", "error", rerr)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Send broadcasts message to every user. Push events and emails are best
// effort and do not affect the result.
func (c *NotificationController) Send(ctx context.Context, message string) error {
	if !c.viewer.IsAdmin() {
		return ErrForbidden
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("notification message is required: %w", ErrInvalidInput)
	}

	b, err := c.store.BroadcastNotification(ctx, message, c.viewer.Email)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	metrics.NotificationsSent.Inc()
	c.log.Info("Notification broadcast", "id", b.Notification.ID, "recipients", len(b.Recipients))

	for _, userID := range b.Recipients {
		ev := realtime.Event{Kind: realtime.EventNotificationInserted, UserID: userID, NotificationID: b.Notification.ID}
		if err := c.bus.Publish(ctx, ev); err != nil {
			c.log.Warn("Failed to publish notification event", "user_id", userID, "error", err)
		}
	}

	c.emails.Add(1)
	go func() {
		defer c.emails.Done()
		c.sendEmails(message)
	}()

	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("Failed to refresh after send", "error", err)
	}
	return nil
}

func (c *NotificationController) sendEmails(message string) {
	ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
	defer cancel()

	recipients, err := c.store.ListUserEmails(ctx)
	if err != nil {
		c.log.Error("Failed to list notification email recipients", "error", err)
		return
	}
	if err := c.mailer.SendNotification(ctx, message, recipients); err != nil {
		c.log.Error("Notification emails failed", "error", err)
		return
	}
	c.log.Info("Notification emails sent", "recipients", len(recipients))
}

// WaitEmails blocks until every email dispatch started by Send has finished.
func (c *NotificationController) WaitEmails() {
	c.emails.Wait()
}

// listen refetches the list whenever the bus announces a new row for the
// viewer, until ctx is done.
func (c *NotificationController) listen(ctx context.Context) error {
	events, err := c.bus.Subscribe(ctx, c.viewer.ID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	go func() {
		for ev := range events {
			if ev.Kind != realtime.EventNotificationInserted {
				continue
			}
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("Failed to refresh on push", "error", err)
			}
		}
		c.observers.closeAll()
	}()
	return nil
}

// NotificationHub owns one NotificationController per viewer, each kept in
// sync with the realtime bus until it is pruned or the hub is closed.
type NotificationHub struct {
	log    *logger.Logger
	store  NotificationStore
	bus    realtime.Bus
	mailer mailer.Mailer
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	viewers map[int64]*hubViewer
	retired sync.WaitGroup
}

type hubViewer struct {
	controller *NotificationController
	stop       context.CancelFunc
	lastUsed   time.Time
}

func NewNotificationHub(log *logger.Logger, st NotificationStore, bus realtime.Bus, m mailer.Mailer) *NotificationHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationHub{
		log:     log,
		store:   st,
		bus:     bus,
		mailer:  m,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		viewers: make(map[int64]*hubViewer),
	}
}

// For returns the viewer's controller, creating, loading and subscribing it
// on first use.
func (h *NotificationHub) For(ctx context.Context, viewer *store.User) (*NotificationController, error) {
	if viewer == nil {
		return nil, ErrUnauthenticated
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.viewers[viewer.ID]; ok {
		v.lastUsed = h.now()
		return v.controller, nil
	}

	c := NewNotificationController(h.log, viewer, h.store, h.bus, h.mailer)
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	listenCtx, stop := context.WithCancel(h.ctx)
	if err := c.listen(listenCtx); err != nil {
		stop()
		return nil, err
	}
	h.viewers[viewer.ID] = &hubViewer{controller: c, stop: stop, lastUsed: h.now()}
	return c, nil
}

// Prune drops controllers not used since before cutoff and returns how many
// were removed. A controller with an open subscription is kept.
func (h *NotificationHub) Prune(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, v := range h.viewers {
		if !v.lastUsed.Before(cutoff) || v.controller.observers.count() > 0 {
			continue
		}
		v.stop()
		delete(h.viewers, id)
		h.retired.Add(1)
		go func(c *NotificationController) {
			defer h.retired.Done()
			c.WaitEmails()
		}(v.controller)
		n++
	}
	return n
}

func (h *NotificationHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close stops all bus subscriptions and waits for pending emails.
func (h *NotificationHub) Close() {
	h.cancel()
	h.mu.Lock()
	for _, v := range h.viewers {
		v.controller.WaitEmails()
	}
	h.mu.Unlock()
	h.retired.Wait()
}
