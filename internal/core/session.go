package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/metrics"
	"github.com/zaibshamsi/Brofessor/internal/store"
	"github.com/zaibshamsi/Brofessor/internal/utils"
)

type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateOfferPending SessionState = "offer_pending"
	StateGenerating   SessionState = "generating"
)

const (
	greetingWithCorpus = "Greetings! I'm Brofessor, your virtual assistant for Invertis University. Feel free to ask me anything about campus life, courses, or events. How can I help you today? 🎓"
	greetingNoCorpus   = "Hello! I'm Brofessor. It looks like I'm still getting set up. An administrator needs to provide me with campus information before I can answer questions. Check back soon! 🛠️"

	apologyMessage       = "Sorry, something went wrong. Please try again."
	offerMissingMessage  = "I'm sorry, I couldn't find the document. There might have been an issue."
	offerResolvedMessage = "Great! Here is the link to download the document:\n"
)

// KnowledgeView is the read side of the corpus a session answers from.
type KnowledgeView interface {
	Content() string
	Files() []store.KnowledgeFile
	HasCorpus() bool
}

// ScheduleView is the read side of the timetables a session answers from.
type ScheduleView interface {
	List() []store.Timetable
	FormatContext() string
	HasSchedule() bool
}

type SessionDeps struct {
	Generator  Generator
	Classifier Classifier
	Knowledge  KnowledgeView
	Schedule   ScheduleView
	Blobs      blob.Store
}

type SessionConfig struct {
	MatchMode MatchMode
	// HistoryLimit caps the prior messages sent to the model. Zero means all.
	HistoryLimit int
}

// Snapshot is an immutable copy of a session's observable state.
type Snapshot struct {
	SessionID    string       `json:"session_id"`
	State        SessionState `json:"state"`
	PendingOffer string       `json:"pending_offer,omitempty"`
	Messages     []Message    `json:"messages"`
}

// Session is one conversation: the transcript, the pending document offer
// and at most one in-flight generation.
type Session struct {
	id      string
	ownerID int64
	log     *logger.Logger
	deps    SessionDeps
	cfg     SessionConfig

	mu           sync.Mutex
	messages     []Message
	state        SessionState
	pendingOffer string
	// version changes on every generation start and every reset. A
	// generation only writes to the transcript while its version is current.
	version    uint64
	cancel     context.CancelFunc
	lastActive time.Time

	observers observers[Snapshot]
}

func NewSession(log *logger.Logger, id string, ownerID int64, deps SessionDeps, cfg SessionConfig) *Session {
	if cfg.MatchMode == "" {
		cfg.MatchMode = MatchSubstring
	}
	s := &Session{
		id:      id,
		ownerID: ownerID,
		log:     log.With("service", "Session", "session_id", id),
		deps:    deps,
		cfg:     cfg,
		state:   StateIdle,
	}
	s.messages = []Message{s.greeting()}
	s.lastActive = time.Now()
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) OwnerID() int64 { return s.ownerID }

func (s *Session) greeting() Message {
	text := greetingNoCorpus
	if s.deps.Knowledge.HasCorpus() {
		text = greetingWithCorpus
	}
	return Message{ID: greetingIDPrefix + uuid.Must(uuid.NewV7()).String(), Text: text, Sender: SenderAssistant}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:    s.id,
		State:        s.state,
		PendingOffer: s.pendingOffer,
		Messages:     append([]Message(nil), s.messages...),
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe streams snapshots, starting with the current one, until ctx is
// done. Snapshots arrive in the order the transcript changed.
func (s *Session) Subscribe(ctx context.Context) <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers.subscribe(ctx, s.snapshotLocked())
}

func (s *Session) publishLocked() {
	s.lastActive = time.Now()
	s.observers.publish(s.snapshotLocked())
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGenerating {
		return time.Now()
	}
	return s.lastActive
}

// Reset discards the transcript and any pending offer and cancels an
// in-flight generation. Output of that generation is dropped from here on.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.version++
	s.pendingOffer = ""
	s.state = StateIdle
	s.messages = []Message{s.greeting()}
	s.publishLocked()
	s.log.Debug("Session reset")
}

// AppendNotice adds an assistant message outside of a turn.
func (s *Session) AppendNotice(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, newMessage(SenderAssistant, text))
	s.publishLocked()
}

// Submit runs one user turn. Empty queries, and queries when there is nothing
// to answer from, are ignored. It returns ErrBusy while a generation is in
// flight. Generation and classification failures end up in the transcript,
// not in the returned error.
func (s *Session) Submit(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" || (!s.deps.Knowledge.HasCorpus() && !s.deps.Schedule.HasSchedule()) {
		return nil
	}

	s.mu.Lock()
	if s.state == StateGenerating {
		s.mu.Unlock()
		return ErrBusy
	}
	s.messages = append(s.messages, newMessage(SenderUser, query))

	if offer := s.pendingOffer; offer != "" {
		s.pendingOffer = ""
		if IsAffirmative(query, s.cfg.MatchMode) {
			s.messages = append(s.messages, newMessage(SenderAssistant, s.resolveOffer(offer)))
			s.state = StateIdle
			s.publishLocked()
			s.mu.Unlock()
			return nil
		}
		metrics.Offers.WithLabelValues("declined").Inc()
	}

	history := s.historyLocked()
	placeholder := newMessage(SenderAssistant, "")
	s.messages = append(s.messages, placeholder)
	s.state = StateGenerating
	s.version++
	version := s.version
	genCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.publishLocked()
	s.mu.Unlock()

	defer cancel()
	defer s.finish(version)

	answer, err := s.stream(genCtx, version, placeholder.ID, history, query)
	if err != nil {
		if !s.current(version) {
			metrics.Generations.WithLabelValues("cancelled").Inc()
			s.log.Debug("Generation abandoned after reset", "error", err)
			return nil
		}
		metrics.Generations.WithLabelValues("error").Inc()
		s.log.Error("Generation failed", "error", err)
		s.setText(version, placeholder.ID, apologyMessage)
		return nil
	}
	metrics.Generations.WithLabelValues("ok").Inc()

	s.offerFollowUp(genCtx, version, placeholder.ID, query, answer)
	return nil
}

// finish returns a generation that is still current to Idle. It is a no-op
// once offerFollowUp moved the session to OfferPending or Reset took over.
func (s *Session) finish(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return
	}
	s.cancel = nil
	if s.state == StateGenerating {
		s.state = StateIdle
		s.publishLocked()
	}
}

func (s *Session) current(version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version == version
}

var errStaleGeneration = errors.New("generation superseded")

func (s *Session) stream(ctx context.Context, version uint64, id string, history []Message, query string) (string, error) {
	ts, err := s.deps.Generator.StreamAnswer(ctx, history, query, s.deps.Knowledge.Content(), s.deps.Schedule.FormatContext())
	if err != nil {
		return "", fmt.Errorf("failed to start answer stream: %w", err)
	}

	var answer strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		chunk, err := ts.Next()
		if errors.Is(err, iterator.Done) {
			return answer.String(), nil
		}
		if err != nil {
			return "", err
		}
		answer.WriteString(chunk)
		if !s.setText(version, id, answer.String()) {
			return "", errStaleGeneration
		}
	}
}

// setText replaces the text of message id if version is still current.
func (s *Session) setText(version uint64, id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Text = text
			s.publishLocked()
			return true
		}
	}
	return false
}

func (s *Session) offerFollowUp(ctx context.Context, version uint64, id, query, answer string) {
	candidates := s.offerCandidates()
	if len(candidates) == 0 {
		return
	}
	fu, err := s.deps.Classifier.SuggestFollowUp(ctx, query, answer, candidates)
	if err != nil {
		s.log.Warn("Follow-up classification failed", "error", err)
		return
	}
	if fu == nil || strings.TrimSpace(fu.Question) == "" || fu.FileName == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Text += "\n\n" + fu.Question
			s.pendingOffer = fu.FileName
			s.state = StateOfferPending
			s.cancel = nil
			metrics.Offers.WithLabelValues("proposed").Inc()
			s.publishLocked()
			return
		}
	}
}

// offerCandidates lists every downloadable file: corpus files with a stored
// original, then timetables.
func (s *Session) offerCandidates() []string {
	var names []string
	for _, f := range s.deps.Knowledge.Files() {
		if f.StorageLocator != "" {
			names = append(names, f.Name)
		}
	}
	for _, t := range s.deps.Schedule.List() {
		if t.StorageLocator != "" {
			names = append(names, t.FileName)
		}
	}
	return names
}

func (s *Session) resolveOffer(fileName string) string {
	locator := ""
	for _, f := range s.deps.Knowledge.Files() {
		if f.Name == fileName && f.StorageLocator != "" {
			locator = f.StorageLocator
			break
		}
	}
	if locator == "" {
		for _, t := range s.deps.Schedule.List() {
			if t.FileName == fileName && t.StorageLocator != "" {
				locator = t.StorageLocator
				break
			}
		}
	}
	if locator == "" {
		metrics.Offers.WithLabelValues("missing").Inc()
		s.log.Warn("Offered document not found", "file", fileName)
		return offerMissingMessage
	}
	metrics.Offers.WithLabelValues("accepted").Inc()
	return offerResolvedMessage + utils.FormatLink(fileName, s.deps.Blobs.PublicURL(locator))
}

// historyLocked returns the prior conversation for the model. The query just
// appended, greetings and empty messages are left out.
func (s *Session) historyLocked() []Message {
	prior := s.messages[:len(s.messages)-1]
	history := make([]Message, 0, len(prior))
	for _, m := range prior {
		if m.isGreeting() || strings.TrimSpace(m.Text) == "" {
			continue
		}
		history = append(history, m)
	}
	if limit := s.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
