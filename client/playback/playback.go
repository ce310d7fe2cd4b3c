package playback

import (
	"context"
	"strings"
	"sync"
)

// State is the controller's playback state.
type State string

const (
	StateIdle     State = "idle"
	StateSpeaking State = "speaking"
)

// preferredEnglishLangs is the fallback search order when the requested
// voice is unavailable.
var preferredEnglishLangs = []string{"en-US", "en-GB", "en-AU", "en-CA", "en-IN"}

// ChooseVoice resolves a voice request deterministically: exact match on
// name or ID, then the first regionally-preferred English voice, then the
// first available voice. A zero Voice means "use the provider default".
func ChooseVoice(voices []Voice, requested string) Voice {
	if requested != "" {
		for _, v := range voices {
			if v.Name == requested || v.ID == requested {
				return v
			}
		}
	}
	for _, lang := range preferredEnglishLangs {
		for _, v := range voices {
			if strings.EqualFold(v.Lang, lang) {
				return v
			}
		}
	}
	if len(voices) > 0 {
		return voices[0]
	}
	return Voice{}
}

// Controller enforces single-flight playback: Idle -> Speaking -> Idle,
// never two overlapping utterances. Starting while speaking cancels the
// active utterance first.
type Controller struct {
	synth Synthesizer

	mu      sync.Mutex
	state   State
	active  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewController builds a controller over the given synthesizer.
func NewController(synth Synthesizer) *Controller {
	return &Controller{synth: synth, state: StateIdle}
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Supported reports whether speech is available at all.
func (c *Controller) Supported() bool {
	return c.synth.Supported()
}

// Speak starts speaking text with the requested voice (resolved through
// ChooseVoice). If an utterance is already active it is cancelled and
// awaited before the new one starts, so utterances never overlap.
func (c *Controller) Speak(ctx context.Context, text, requestedVoice string) error {
	if !c.synth.Supported() {
		return ErrUnsupported
	}
	c.stopAndWait()

	voice := ChooseVoice(c.synth.Voices(), requestedVoice)
	speakCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StateSpeaking
	c.active = cancel
	c.done = done
	c.lastErr = nil
	c.mu.Unlock()

	go func() {
		err := c.synth.Speak(speakCtx, text, voice)
		cancel()
		c.mu.Lock()
		c.state = StateIdle
		c.active = nil
		c.done = nil
		c.lastErr = err
		c.mu.Unlock()
		close(done)
	}()
	return nil
}

// Wait blocks until the active utterance finishes and returns its error.
// Returns immediately when idle.
func (c *Controller) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stop cancels the active utterance. Idempotent and safe from any state.
func (c *Controller) Stop() {
	c.stopAndWait()
}

func (c *Controller) stopAndWait() {
	c.mu.Lock()
	cancel := c.active
	done := c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.synth.Cancel()
	}
	if done != nil {
		<-done
	}
}
