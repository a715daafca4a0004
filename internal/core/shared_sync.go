package core

import (
	"context"
	"fmt"

	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/realtime"
)

// changeAnnouncer tells other server instances that shared data changed.
// The zero value announces nothing.
type changeAnnouncer struct {
	log *logger.Logger
	bus realtime.Bus
}

func (a changeAnnouncer) announce(ctx context.Context, kind string) {
	if a.bus == nil {
		return
	}
	ev := realtime.Event{Kind: kind, UserID: realtime.SharedUserID}
	if err := a.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		a.log.Warn("Failed to announce change", "kind", kind, "error", err)
	}
}

// AnnounceChanges makes every later corpus write publish
// EventKnowledgeChanged on bus.
func (c *KnowledgeBaseController) AnnounceChanges(bus realtime.Bus) {
	c.announcer = changeAnnouncer{log: c.log, bus: bus}
}

// AnnounceChanges makes every later timetable write publish
// EventTimetablesChanged on bus.
func (c *TimetableController) AnnounceChanges(bus realtime.Bus) {
	c.announcer = changeAnnouncer{log: c.log, bus: bus}
}

// WatchSharedChanges refreshes the corpus and timetable mirrors whenever a
// change is announced on bus, until ctx is done. Either controller may be nil.
func WatchSharedChanges(ctx context.Context, log *logger.Logger, bus realtime.Bus, knowledge *KnowledgeBaseController, timetables *TimetableController) error {
	events, err := bus.Subscribe(ctx, realtime.SharedUserID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to shared changes: %w", err)
	}
	go func() {
		for ev := range events {
			var err error
			switch {
			case ev.Kind == realtime.EventKnowledgeChanged && knowledge != nil:
				err = knowledge.Refresh(ctx)
			case ev.Kind == realtime.EventTimetablesChanged && timetables != nil:
				err = timetables.Refresh(ctx)
			default:
				continue
			}
			if err != nil {
				log.Warn("Failed to refresh after shared change", "kind", ev.Kind, "error", err)
			}
		}
	}()
	return nil
}
