package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"chat-history-agent/internal/domain"
)

// GenerationErrorMessage is the answer recorded when generation fails.
const GenerationErrorMessage = "❌ Error generating response."

// ErrBusy is returned when another Submit, Refresh, ClearView or Restore is
// still running on the same session.
var ErrBusy = errors.New("usecase: session is busy")

// TurnStore is the durable mirror of the conversation.
type TurnStore interface {
	Append(ctx context.Context, turn domain.Turn) error
	ReadAll(ctx context.Context) ([]domain.Turn, error)
	DeleteAll(ctx context.Context) (int, error)
}

// Generator produces the next answer for an ordered history.
type Generator interface {
	Generate(ctx context.Context, history []domain.Turn, systemInstruction string) (string, error)
}

// ErrorSink receives infrastructure failures that are absorbed rather than
// returned. op names the failed step, e.g. "persist_question".
type ErrorSink func(op string, err error)

// LogSink reports absorbed failures through the global zerolog logger.
func LogSink(op string, err error) {
	log.Warn().Err(err).Str("op", op).Msg("chat session: absorbed failure")
}

type SessionOption func(*Session)

// WithSystemInstruction prefixes every generation request with s.
func WithSystemInstruction(s string) SessionOption {
	return func(sess *Session) {
		sess.systemInstruction = strings.TrimSpace(s)
	}
}

// WithErrorSink replaces LogSink.
func WithErrorSink(sink ErrorSink) SessionOption {
	return func(sess *Session) {
		if sink != nil {
			sess.sink = sink
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(sess *Session) {
		if now != nil {
			sess.now = now
		}
	}
}

// Session owns the local conversation of one chat session and mirrors every
// new turn to the store. The local copy is authoritative for the session:
// store failures are reported to the sink and never roll it back.
type Session struct {
	store             TurnStore
	generator         Generator
	systemInstruction string
	sink              ErrorSink
	now               func() time.Time

	busy       atomic.Bool
	generating atomic.Bool

	mu          sync.RWMutex
	turns       []domain.Turn
	draft       string
	lastCreated time.Time
}

// NewSession wires a session to its store and generator.
func NewSession(store TurnStore, generator Generator, opts ...SessionOption) (*Session, error) {
	if store == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	if generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	s := &Session{
		store:     store,
		generator: generator,
		sink:      LogSink,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit runs one question/answer round trip. Blank text is ignored. A
// generation failure is recorded as an answer carrying
// GenerationErrorMessage. The only error returned is ErrBusy.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	question := s.appendTurn(domain.TurnQuestion, text)
	s.SetDraft("")
	s.generating.Store(true)
	defer s.generating.Store(false)
	s.persist(ctx, "persist_question", question)

	answerText, err := s.generator.Generate(ctx, s.Turns(), s.systemInstruction)
	if err != nil {
		s.sink("generate", err)
		answerText = GenerationErrorMessage
	}

	answer := s.appendTurn(domain.TurnAnswer, answerText)
	s.persist(ctx, "persist_answer", answer)
	return nil
}

// Refresh replaces the local conversation with the stored one. A failed read
// yields an empty conversation. It returns the number of turns loaded.
func (s *Session) Refresh(ctx context.Context) (int, error) {
	if !s.acquire() {
		return 0, ErrBusy
	}
	defer s.release()
	turns, err := s.store.ReadAll(ctx)
	if err != nil {
		s.sink("read_history", err)
		turns = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append([]domain.Turn(nil), turns...)
	s.lastCreated = time.Time{}
	for _, t := range s.turns {
		if t.CreatedAt.After(s.lastCreated) {
			s.lastCreated = t.CreatedAt
		}
	}
	return len(s.turns), nil
}

// ClearView empties the local conversation when confirm approves. The store
// is not touched.
func (s *Session) ClearView(confirm func() bool) (bool, error) {
	if !s.acquire() {
		return false, ErrBusy
	}
	defer s.release()
	if confirm == nil || !confirm() {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	return true, nil
}

// PurgeRemote deletes every stored turn. The local conversation is kept.
func (s *Session) PurgeRemote(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		s.sink("purge_remote", err)
		return n, err
	}
	return n, nil
}

// Restore seeds the local conversation without reading the store.
func (s *Session) Restore(turns []domain.Turn) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append([]domain.Turn(nil), turns...)
	for _, t := range s.turns {
		if t.CreatedAt.After(s.lastCreated) {
			s.lastCreated = t.CreatedAt
		}
	}
	return nil
}

// Turns returns a copy of the local conversation.
func (s *Session) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Turn(nil), s.turns...)
}

// Generating reports whether a submission is in flight.
func (s *Session) Generating() bool {
	return s.generating.Load()
}

func (s *Session) Draft() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *Session) acquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *Session) release() {
	s.busy.Store(false)
}

func (s *Session) appendTurn(typ domain.TurnType, content string) domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// CreatedAt orders the stored copy, so it must grow with every append.
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = now
	turn := domain.NewTurn(typ, content, now)
	s.turns = append(s.turns, turn)
	return turn
}

func (s *Session) persist(ctx context.Context, op string, turn domain.Turn) {
	if err := s.store.Append(ctx, turn); err != nil {
		s.sink(op, err)
	}
}
