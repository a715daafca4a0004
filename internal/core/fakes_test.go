package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/afero"
	"google.golang.org/api/iterator"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

var errBoom = errors.New("boom")

// sliceStream yields chunks, then err if set, then iterator.Done.
type sliceStream struct {
	chunks []string
	err    error
	i      int
}

func (s *sliceStream) Next() (string, error) {
	if s.i < len(s.chunks) {
		s.i++
		return s.chunks[s.i-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", iterator.Done
}

// chanStream yields whatever the test sends until the channel is closed.
type chanStream struct {
	ch <-chan string
}

func (s *chanStream) Next() (string, error) {
	chunk, ok := <-s.ch
	if !ok {
		return "", iterator.Done
	}
	return chunk, nil
}

type generatorCall struct {
	ctx              context.Context
	history          []Message
	question         string
	knowledgeContext string
	scheduleContext  string
}

type fakeGenerator struct {
	mu       sync.Mutex
	streams  []TextStream
	startErr error
	calls    []generatorCall
}

func (g *fakeGenerator) StreamAnswer(ctx context.Context, history []Message, question, knowledgeContext, scheduleContext string) (TextStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generatorCall{ctx, history, question, knowledgeContext, scheduleContext})
	if g.startErr != nil {
		return nil, g.startErr
	}
	if len(g.streams) == 0 {
		return &sliceStream{}, nil
	}
	next := g.streams[0]
	g.streams = g.streams[1:]
	return next, nil
}

func (g *fakeGenerator) Calls() []generatorCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generatorCall(nil), g.calls...)
}

type classifierResult struct {
	followUp *FollowUp
	err      error
}

type fakeClassifier struct {
	mu         sync.Mutex
	results    []classifierResult
	candidates [][]string
}

func (c *fakeClassifier) SuggestFollowUp(_ context.Context, _, _ string, candidates []string) (*FollowUp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidates)
	if len(c.results) == 0 {
		return nil, nil
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r.followUp, r.err
}

type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (e *fakeExtractor) ExtractText(context.Context, blob.Blob) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.text, e.err
}

func (e *fakeExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type staticKnowledge struct {
	content string
	files   []store.KnowledgeFile
}

func (k staticKnowledge) Content() string               { return k.content }
func (k staticKnowledge) Files() []store.KnowledgeFile { return k.files }
func (k staticKnowledge) HasCorpus() bool               { return k.content != "" }

type staticSchedule struct {
	timetables []store.Timetable
}

func (s staticSchedule) List() []store.Timetable { return s.timetables }
func (s staticSchedule) FormatContext() string   { return FormatTimetables(s.timetables) }
func (s staticSchedule) HasSchedule() bool       { return len(s.timetables) > 0 }

// memKnowledgeStore serializes UpdateKnowledgeBase the way a single-writer
// database would.
type memKnowledgeStore struct {
	mu        sync.Mutex
	kb        store.KnowledgeBase
	updateErr error
}

func (m *memKnowledgeStore) GetKnowledgeBase(context.Context) (*store.KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb := m.kb
	kb.Files = append([]store.KnowledgeFile(nil), m.kb.Files...)
	return &kb, nil
}

func (m *memKnowledgeStore) UpdateKnowledgeBase(_ context.Context, mutate func(kb *store.KnowledgeBase) error) (*store.KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	kb := m.kb
	kb.Files = append([]store.KnowledgeFile(nil), m.kb.Files...)
	// Widen the race window for concurrent callers.
	time.Sleep(time.Millisecond)
	if err := mutate(&kb); err != nil {
		return nil, err
	}
	kb.UpdatedAt = time.Now()
	m.kb = kb
	out := kb
	return &out, nil
}

// recordingBlobs is a LocalStore on an in-memory filesystem that remembers
// every locator it handed out.
type recordingBlobs struct {
	*blob.LocalStore
	mu   sync.Mutex
	puts []string
}

func newMemBlobs() *recordingBlobs {
	return &recordingBlobs{LocalStore: blob.NewLocalStoreFs(logger.Nop(), afero.NewMemMapFs(), "http://files.test")}
}

func (r *recordingBlobs) Put(ctx context.Context, b blob.Blob, ownerID string) (string, error) {
	locator, err := r.LocalStore.Put(ctx, b, ownerID)
	if err == nil {
		r.mu.Lock()
		r.puts = append(r.puts, locator)
		r.mu.Unlock()
	}
	return locator, err
}

func (r *recordingBlobs) Puts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.puts...)
}

// Stored lists the locators handed out that still exist.
func (r *recordingBlobs) Stored() []string {
	var out []string
	for _, l := range r.Puts() {
		if r.Exists(l) {
			out = append(out, l)
		}
	}
	return out
}
