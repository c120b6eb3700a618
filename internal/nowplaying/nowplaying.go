// Package nowplaying holds the single process-wide record of what is being
// read aloud. Playback writes it; mini-players and navigation read it.
package nowplaying

import "sync"

// Source says where the playing text came from.
type Source interface {
	source()
}

// RawText is text spoken directly, optionally tied to a stored item.
type RawText struct {
	ID   *string
	Text string
}

// Document is a stored document opened at Locator.
type Document struct {
	ID      string
	Locator string
}

func (RawText) source()  {}
func (Document) source() {}

// SameSource reports whether a and b refer to the same content.
func SameSource(a, b Source) bool {
	switch a := a.(type) {
	case RawText:
		b, ok := b.(RawText)
		if !ok {
			return false
		}
		if a.ID != nil && b.ID != nil {
			return *a.ID == *b.ID
		}
		return a.ID == nil && b.ID == nil && a.Text == b.Text
	case Document:
		b, ok := b.(Document)
		return ok && a.ID == b.ID
	}
	return false
}

// State is a snapshot of the now-playing record.
type State struct {
	Playing  bool
	Title    string
	Text     string
	Progress float64
	Source   Source
}

// Idle reports whether nothing is loaded.
func (s State) Idle() bool {
	return s.Source == nil && !s.Playing
}

// Controller owns the now-playing record.
type Controller struct {
	mu    sync.Mutex
	state State
	subs  map[int]chan State
	next  int
}

// New returns an idle controller.
func New() *Controller {
	return &Controller{subs: make(map[int]chan State)}
}

// Start marks src as playing. Starting the source that was stopped keeps
// its progress.
func (c *Controller) Start(title, text string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	progress := 0.0
	if c.state.Source != nil && SameSource(c.state.Source, src) {
		progress = c.state.Progress
	}
	c.state = State{
		Playing:  true,
		Title:    title,
		Text:     text,
		Progress: progress,
		Source:   src,
	}
	c.publishLocked()
}

// Stop marks playback as paused and keeps the content for a resume.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Playing {
		return
	}
	c.state.Playing = false
	c.publishLocked()
}

// Dismiss resets to idle.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Idle() {
		return
	}
	c.state = State{}
	c.publishLocked()
}

// UpdateProgress sets progress, clamped to [0, 1]. It is ignored while idle.
func (c *Controller) UpdateProgress(p float64) {
	p = max(0, min(p, 1))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Idle() || c.state.Progress == p {
		return
	}
	c.state.Progress = p
	c.publishLocked()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states. Call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++
	ch := make(chan State, 1)
	ch <- c.state
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

func (c *Controller) publishLocked() {
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c.state
	}
}
