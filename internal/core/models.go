package core

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/zaibshamsi/Brofessor/internal/blob"
)

var (
	ErrBusy            = errors.New("a response is still being generated")
	ErrForbidden       = errors.New("admin privileges required")
	ErrUnauthenticated = errors.New("an authenticated user is required")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one transcript entry. An assistant message with empty Text is
// the placeholder of a generation in progress.
type Message struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
}

const greetingIDPrefix = "greeting-"

func newMessage(sender Sender, text string) Message {
	return Message{ID: uuid.Must(uuid.NewV7()).String(), Text: text, Sender: sender}
}

func (m Message) isGreeting() bool {
	return strings.HasPrefix(m.ID, greetingIDPrefix)
}

// FollowUp is a classifier's proposal to offer a document download.
type FollowUp struct {
	Question string `json:"question"`
	FileName string `json:"file_name"`
}

// TextStream yields answer increments in order. Next returns
// iterator.Done once the stream is exhausted.
type TextStream interface {
	Next() (string, error)
}

// Generator streams an answer grounded in the two context blobs.
type Generator interface {
	StreamAnswer(ctx context.Context, history []Message, question, knowledgeContext, scheduleContext string) (TextStream, error)
}

// Classifier decides whether an answer came from one of the candidate
// documents. It returns nil, nil when there is no confident match.
type Classifier interface {
	SuggestFollowUp(ctx context.Context, question, answer string, candidates []string) (*FollowUp, error)
}

// NoTextFound is what an Extractor returns for a document that has no
// extractable text. It is distinct from an empty (failed) extraction.
const NoTextFound = "[[NO_TEXT_FOUND]]"

type Extractor interface {
	ExtractText(ctx context.Context, b blob.Blob) (string, error)
}
