package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/realtime"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

type TimetableStore interface {
	ListTimetables(ctx context.Context) ([]store.Timetable, error)
	GetTimetable(ctx context.Context, id int64) (*store.Timetable, error)
	CreateTimetable(ctx context.Context, t *store.Timetable) error
	DeleteTimetable(ctx context.Context, id int64) error
}

// TimetableController mirrors the timetable list and renders it as the
// schedule context handed to the model.
type TimetableController struct {
	log       *logger.Logger
	store     TimetableStore
	blobs     blob.Store
	extractor Extractor

	announcer changeAnnouncer

	mu         sync.RWMutex
	timetables []store.Timetable
}

func NewTimetableController(log *logger.Logger, st TimetableStore, blobs blob.Store, extractor Extractor) *TimetableController {
	return &TimetableController{
		log:       log.With("service", "TimetableController"),
		store:     st,
		blobs:     blobs,
		extractor: extractor,
	}
}

func (c *TimetableController) Refresh(ctx context.Context) error {
	list, err := c.store.ListTimetables(ctx)
	if err != nil {
		return fmt.Errorf("failed to load timetables: %w", err)
	}
	c.mu.Lock()
	c.timetables = list
	c.mu.Unlock()
	return nil
}

func (c *TimetableController) List() []store.Timetable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]store.Timetable(nil), c.timetables...)
}

func (c *TimetableController) HasSchedule() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.timetables) > 0
}

// Add stores the original file, extracts its text and inserts the row. The
// stored file is deleted if extraction or the insert fails.
func (c *TimetableController) Add(ctx context.Context, actor *store.User, u Upload, department, year string) (*store.Timetable, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	department = strings.TrimSpace(department)
	year = strings.TrimSpace(year)
	if u == nil || strings.TrimSpace(u.Name()) == "" || department == "" || year == "" {
		return nil, fmt.Errorf("department, year and file are required: %w", ErrInvalidInput)
	}

	data, err := u.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read timetable file: %w", err)
	}
	b := blob.Blob{Name: u.Name(), ContentType: baseMediaType(u.MediaType()), Data: data}
	locator, err := c.blobs.Put(ctx, b, fmt.Sprint(actor.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to upload timetable file: %w", err)
	}

	t, err := c.insert(ctx, actor, b, locator, department, year)
	if err != nil {
		c.blobs.Delete(context.WithoutCancel(ctx), locator)
		return nil, err
	}

	c.mu.Lock()
	c.timetables = append(c.timetables, *t)
	c.mu.Unlock()
	c.announcer.announce(ctx, realtime.EventTimetablesChanged)
	c.log.Info("Timetable added", "id", t.ID, "department", department, "year", year)
	return t, nil
}

func (c *TimetableController) insert(ctx context.Context, actor *store.User, b blob.Blob, locator, department, year string) (*store.Timetable, error) {
	var content string
	switch b.ContentType {
	case "text/plain", "text/csv":
		content = NormalizeText(string(b.Data))
	default:
		text, err := extract(ctx, c.extractor, b)
		if err != nil {
			return nil, err
		}
		content = text
	}

	t := &store.Timetable{
		Department:     department,
		Year:           year,
		FileName:       b.Name,
		StorageLocator: locator,
		Content:        content,
		UserID:         actor.ID,
	}
	if err := c.store.CreateTimetable(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save timetable: %w", err)
	}
	return t, nil
}

// Delete removes the row first, then its stored file.
func (c *TimetableController) Delete(ctx context.Context, actor *store.User, id int64) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	t, err := c.store.GetTimetable(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load timetable %d: %w", id, err)
	}
	if err := c.store.DeleteTimetable(ctx, id); err != nil {
		return fmt.Errorf("failed to delete timetable %d: %w", id, err)
	}
	if t.StorageLocator != "" {
		c.blobs.Delete(ctx, t.StorageLocator)
	}

	c.mu.Lock()
	kept := c.timetables[:0:0]
	for _, existing := range c.timetables {
		if existing.ID != id {
			kept = append(kept, existing)
		}
	}
	c.timetables = kept
	c.mu.Unlock()
	c.announcer.announce(ctx, realtime.EventTimetablesChanged)
	c.log.Info("Timetable deleted", "id", id)
	return nil
}

// FormatContext renders every timetable as a delimited block, oldest first.
func (c *TimetableController) FormatContext() string {
	return FormatTimetables(c.List())
}

func FormatTimetables(timetables []store.Timetable) string {
	var b strings.Builder
	for _, t := range timetables {
		fmt.Fprintf(&b, "--- TIMETABLE: %s / %s (%s) ---\n%s\n\n", t.Department, t.Year, t.FileName, t.Content)
	}
	return b.String()
}
