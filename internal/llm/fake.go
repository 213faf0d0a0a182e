package llm

import (
	"context"
	"errors"
	"sync"
)

// Fake is a scripted Client for tests. Without scripting, Generate returns
// "{}" and chat replies echo the user text.
type Fake struct {
	mu       sync.Mutex
	generate func(ctx context.Context, req GenerateRequest) (string, error)
	chat     func(req ChatRequest, history []Turn, text string) (string, error)
	startErr error
	requests []GenerateRequest
	sessions []*FakeSession
}

func NewFake() *Fake {
	return &Fake{}
}

// OnGenerate sets the Generate behaviour.
func (f *Fake) OnGenerate(fn func(ctx context.Context, req GenerateRequest) (string, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generate = fn
	return f
}

// OnChat sets the reply for each Send. history holds the turns before text.
func (f *Fake) OnChat(fn func(req ChatRequest, history []Turn, text string) (string, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat = fn
	return f
}

// FailStartChat makes StartChat return err.
func (f *Fake) FailStartChat(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
	return f
}

// GenerateSequence answers successive Generate calls from outcomes; the last
// one repeats once the list is exhausted.
func (f *Fake) GenerateSequence(outcomes ...FakeOutcome) *Fake {
	var mu sync.Mutex
	i := 0
	return f.OnGenerate(func(ctx context.Context, req GenerateRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(outcomes) == 0 {
			return "", errors.New("no scripted outcome")
		}
		o := outcomes[i]
		if i < len(outcomes)-1 {
			i++
		}
		return o.Text, o.Err
	})
}

// FakeOutcome is one scripted Generate result.
type FakeOutcome struct {
	Text string
	Err  error
}

func Reply(text string) FakeOutcome { return FakeOutcome{Text: text} }

func Fail(err error) FakeOutcome { return FakeOutcome{Err: err} }

func (f *Fake) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.generate
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn == nil {
		return "{}", nil
	}
	return fn(ctx, req)
}

func (f *Fake) StartChat(ctx context.Context, req ChatRequest) (ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	s := &FakeSession{Request: req, reply: f.chat}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Requests returns every GenerateRequest seen so far.
func (f *Fake) Requests() []GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GenerateRequest(nil), f.requests...)
}

// Sessions returns every session StartChat created.
func (f *Fake) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

// FakeSession records the conversation it was driven through.
type FakeSession struct {
	Request ChatRequest

	mu      sync.Mutex
	reply   func(req ChatRequest, history []Turn, text string) (string, error)
	history []Turn
	closed  bool
}

func (s *FakeSession) Send(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.New("chat session closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reply := "echo: " + text
	if s.reply != nil {
		var err error
		reply, err = s.reply(s.Request, append([]Turn(nil), s.history...), text)
		if err != nil {
			return "", err
		}
	}

	s.history = append(s.history, Turn{Role: RoleUser, Text: text}, Turn{Role: RoleModel, Text: reply})
	return reply, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FakeSession) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
