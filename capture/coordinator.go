package capture

import (
	"context"
	"strings"
	"sync"
)

// Interpreter is the downstream command interpreter. The pipeline calls it
// exactly once per explicit submission.
type Interpreter interface {
	Interpret(ctx context.Context, transcript string) error
}

// Coordinator owns the accumulated transcript for the active capture
// session. Interim text is display-only and replaced on every update; final
// segments are appended space-joined. Finishing a session never submits
// implicitly.
type Coordinator struct {
	interp Interpreter

	mu       sync.Mutex
	interim  string
	segments []string
}

func NewCoordinator(interp Interpreter) *Coordinator {
	return &Coordinator{interp: interp}
}

// SetInterim replaces the provisional display value. It is never persisted
// into the accumulated transcript.
func (c *Coordinator) SetInterim(text string) {
	c.mu.Lock()
	c.interim = text
	c.mu.Unlock()
}

// AppendFinal commits one recognized segment and clears the interim value.
func (c *Coordinator) AppendFinal(text string) {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if text != "" {
		c.segments = append(c.segments, text)
	}
	c.interim = ""
	c.mu.Unlock()
}

func (c *Coordinator) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

func (c *Coordinator) Accumulated() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.segments, " ")
}

// Reset clears all transcript state; called when a new session starts.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.interim = ""
	c.segments = nil
	c.mu.Unlock()
}

// Submit hands the accumulated transcript to the interpreter, then clears
// state. An empty transcript is cleared without an interpreter call.
func (c *Coordinator) Submit(ctx context.Context) (string, error) {
	c.mu.Lock()
	text := strings.Join(c.segments, " ")
	c.segments = nil
	c.interim = ""
	c.mu.Unlock()

	if text == "" || c.interp == nil {
		return text, nil
	}
	return text, c.interp.Interpret(ctx, text)
}
