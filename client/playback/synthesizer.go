// Package playback renders reconstructed story text as speech through a
// pluggable synthesizer capability.
package playback

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
)

// ErrUnsupported is returned when the platform has no speech capability.
var ErrUnsupported = errors.New("speech synthesis not supported on this platform")

// Voice identifies one synthesizer voice.
type Voice struct {
	ID   string
	Name string
	Lang string
}

// Synthesizer is the speech capability. Speak blocks until the utterance
// finishes, the context is cancelled, or Cancel is called. Implementations
// for platforms without speech report Supported() == false and fail Speak
// with ErrUnsupported.
type Synthesizer interface {
	Supported() bool
	Voices() []Voice
	Speak(ctx context.Context, text string, voice Voice) error
	Cancel()
}

// NoopSynthesizer is the unsupported-platform stand-in.
type NoopSynthesizer struct{}

func (NoopSynthesizer) Supported() bool { return false }

func (NoopSynthesizer) Voices() []Voice { return nil }

func (NoopSynthesizer) Speak(context.Context, string, Voice) error {
	return ErrUnsupported
}

func (NoopSynthesizer) Cancel() {}

// CommandSynthesizer drives an external speech binary (espeak-ng style:
// the voice passed via a flag, the text as the final argument).
type CommandSynthesizer struct {
	binary    string
	voiceFlag string
	voices    []Voice

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandSynthesizer builds a synthesizer over the given binary. voices
// describes what the binary offers; an empty list still works, Speak then
// always uses the binary's default voice.
func NewCommandSynthesizer(binary, voiceFlag string, voices []Voice) *CommandSynthesizer {
	return &CommandSynthesizer{binary: binary, voiceFlag: voiceFlag, voices: voices}
}

func (s *CommandSynthesizer) Supported() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

func (s *CommandSynthesizer) Voices() []Voice {
	out := make([]Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

func (s *CommandSynthesizer) Speak(ctx context.Context, text string, voice Voice) error {
	if !s.Supported() {
		return ErrUnsupported
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	args := []string{}
	if voice.ID != "" && s.voiceFlag != "" {
		args = append(args, s.voiceFlag, voice.ID)
	}
	args = append(args, text)
	cmd := exec.CommandContext(runCtx, s.binary, args...)
	err := cmd.Run()
	if runCtx.Err() != nil {
		// Cancelled mid-utterance; not a failure.
		return nil
	}
	return err
}

func (s *CommandSynthesizer) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
