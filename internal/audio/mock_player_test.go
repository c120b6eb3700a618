package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/readaloud/internal/wav"
)

func TestMockPlayer_BasicPlayback(t *testing.T) {
	mp := NewMockPlayer()
	pcm := generateTestAudio(mono16k, 2*time.Second)

	if err := mp.PlayPCM(mono16k, pcm); err != nil {
		t.Fatalf("PlayPCM: %v", err)
	}
	if mp.State() != StatePlaying {
		t.Errorf("state = %v, want playing", mp.State())
	}
	if got := mp.Duration(); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}

	mp.SetPosition(500 * time.Millisecond)
	if got := mp.Position(); got != 500*time.Millisecond {
		t.Errorf("Position = %v", got)
	}

	done := mp.Done()
	mp.Finish()
	select {
	case <-done:
	default:
		t.Fatal("Done not closed after Finish")
	}
	if mp.Position() != 2*time.Second {
		t.Errorf("Finish left position at %v", mp.Position())
	}
}

func TestMockPlayer_PlayFile(t *testing.T) {
	mp := NewMockPlayer()
	path := filepath.Join(t.TempDir(), "a.wav")
	data := wav.Encode(mono16k, generateTestAudio(mono16k, time.Second))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := mp.Play(path); err != nil {
		t.Fatal(err)
	}
	if mp.LastPath() != path {
		t.Errorf("LastPath = %q", mp.LastPath())
	}
	if mp.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", mp.Duration())
	}
}

func TestMockPlayer_StopAndReplace(t *testing.T) {
	mp := NewMockPlayer()
	pcm := generateTestAudio(mono16k, 100*time.Millisecond)

	mp.PlayPCM(mono16k, pcm) //nolint:errcheck
	first := mp.Done()
	mp.PlayPCM(mono16k, pcm) //nolint:errcheck

	select {
	case <-first:
	default:
		t.Error("starting a new stream did not end the first")
	}

	if err := mp.Stop(); err != nil {
		t.Fatal(err)
	}
	mp.Stop() //nolint:errcheck

	m := mp.GetMetrics()
	if m.PlayCount != 2 || m.StopCount != 1 {
		t.Errorf("metrics = %+v, want 2 plays and 1 stop", m)
	}
}

func TestMockPlayer_PlayErr(t *testing.T) {
	mp := NewMockPlayer()
	boom := errors.New("boom")
	mp.PlayErr = boom

	pcm := generateTestAudio(mono16k, 10*time.Millisecond)
	if err := mp.PlayPCM(mono16k, pcm); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if err := mp.PlayPCM(mono16k, pcm); err != nil {
		t.Errorf("PlayErr was not one-shot: %v", err)
	}
	if _, got := mp.LastPCM(); len(got) != len(pcm) {
		t.Errorf("LastPCM length = %d", len(got))
	}
}
