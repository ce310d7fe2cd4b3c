package playback

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeSynthesizer records utterances and speaks until cancelled.
type fakeSynthesizer struct {
	voices []Voice

	mu         sync.Mutex
	active     int
	maxActive  int
	utterances []string
	cancel     context.CancelFunc
}

func (f *fakeSynthesizer) Supported() bool { return true }

func (f *fakeSynthesizer) Voices() []Voice { return f.voices }

func (f *fakeSynthesizer) Speak(ctx context.Context, text string, voice Voice) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.utterances = append(f.utterances, text)
	f.cancel = cancel
	f.mu.Unlock()

	<-runCtx.Done()

	f.mu.Lock()
	f.active--
	f.cancel = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeSynthesizer) Cancel() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func TestSpeakStopsActiveUtteranceFirst(t *testing.T) {
	synth := &fakeSynthesizer{}
	controller := NewController(synth)

	if err := controller.Speak(context.Background(), "first", ""); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitForState(t, controller, StateSpeaking)

	// Starting a second utterance cancels the first; they never overlap.
	if err := controller.Speak(context.Background(), "second", ""); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitForState(t, controller, StateSpeaking)

	controller.Stop()
	waitForState(t, controller, StateIdle)

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if synth.maxActive > 1 {
		t.Fatalf("utterances overlapped: max active = %d", synth.maxActive)
	}
	if len(synth.utterances) != 2 || synth.utterances[0] != "first" || synth.utterances[1] != "second" {
		t.Fatalf("unexpected utterances: %v", synth.utterances)
	}
}

func TestStopIsIdempotentFromAnyState(t *testing.T) {
	controller := NewController(&fakeSynthesizer{})

	// Idle: nothing to do.
	controller.Stop()
	controller.Stop()

	if err := controller.Speak(context.Background(), "text", ""); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitForState(t, controller, StateSpeaking)
	controller.Stop()
	controller.Stop()
	if controller.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", controller.State())
	}
}

func TestSpeakOnUnsupportedPlatform(t *testing.T) {
	controller := NewController(NoopSynthesizer{})
	if controller.Supported() {
		t.Fatal("noop synthesizer reported supported")
	}
	if err := controller.Speak(context.Background(), "text", ""); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if controller.State() != StateIdle {
		t.Fatalf("failed speak changed state to %s", controller.State())
	}
}

func TestChooseVoiceFallbackOrder(t *testing.T) {
	us := Voice{ID: "v1", Name: "Samantha", Lang: "en-US"}
	gb := Voice{ID: "v2", Name: "Daniel", Lang: "en-GB"}
	fr := Voice{ID: "v3", Name: "Amelie", Lang: "fr-FR"}

	// 1) Exact request wins.
	if got := ChooseVoice([]Voice{fr, gb, us}, "Daniel"); got.ID != "v2" {
		t.Fatalf("requested voice not chosen: %+v", got)
	}
	// 2) Unknown request falls back to the preferred English order.
	if got := ChooseVoice([]Voice{fr, gb, us}, "Missing"); got.ID != "v1" {
		t.Fatalf("expected en-US fallback, got %+v", got)
	}
	if got := ChooseVoice([]Voice{fr, gb}, ""); got.ID != "v2" {
		t.Fatalf("expected en-GB fallback, got %+v", got)
	}
	// 3) No English voice: first available.
	if got := ChooseVoice([]Voice{fr}, ""); got.ID != "v3" {
		t.Fatalf("expected first voice, got %+v", got)
	}
	// 4) No voices at all: provider default.
	if got := ChooseVoice(nil, "anything"); got != (Voice{}) {
		t.Fatalf("expected zero voice, got %+v", got)
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("controller never reached state %s (at %s)", want, c.State())
}
