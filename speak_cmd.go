package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/highlight"
	"github.com/dgnsrekt/readaloud/internal/nowplaying"
	"github.com/dgnsrekt/readaloud/internal/playback"
)

var (
	speakClipboard bool
	speakID        string
	speakTitle     string
	speakDevice    bool
	speakQuiet     bool

	speakCmd = &cobra.Command{
		Use:   "speak [FILE|-]",
		Short: "Read text aloud",
		Long: paragraph(fmt.Sprintf("\n%s text from a file, stdin or the clipboard. Cached cloud audio for the text is played when there is any, otherwise it is synthesized on this device.", keyword("Speak"))),
		Example: paragraph("readaloud speak notes.txt\npbpaste | readaloud speak\nreadaloud speak --clipboard --device"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runSpeak,
	}
)

func init() {
	speakCmd.Flags().BoolVarP(&speakClipboard, "clipboard", "c", false, "read the clipboard")
	speakCmd.Flags().StringVar(&speakID, "id", "", "content identifier (default derived from the text)")
	speakCmd.Flags().StringVarP(&speakTitle, "title", "t", "", "title shown while playing")
	speakCmd.Flags().BoolVarP(&speakDevice, "device", "d", false, "always synthesize on this device")
	speakCmd.Flags().BoolVarP(&speakQuiet, "quiet", "q", false, "do not show the highlight")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, name, err := readText(args, speakClipboard)
	if err != nil {
		return err
	}
	id := speakID
	if id == "" {
		id = contentIDFor(text)
	}
	title := speakTitle
	if title == "" {
		title = filepath.Base(name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := openCache()
	if err != nil {
		return err
	}
	player := audio.NewOtoPlayer()
	defer player.Close() //nolint:errcheck

	engine, err := newEngine(player, m)
	if err != nil {
		return err
	}

	req := playback.Request{
		ContentID:   id,
		Title:       title,
		Text:        text,
		Source:      nowplaying.RawText{ID: &id, Text: text},
		PreferCloud: cfg.Playback.PreferCloud && !speakDevice,
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if isTerminal && !speakQuiet {
		width := 80
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
		printer := highlight.NewPrinter(os.Stdout, text, width)
		req.OnHighlight = func(h playback.Highlight) {
			if h.Cleared {
				printer.Clear()
				return
			}
			printer.Show(h.Range)
		}
	}

	s, err := engine.Start(ctx, req)
	if errors.Is(err, playback.ErrNoDevice) {
		return fmt.Errorf("no cached audio for %s and no piper model configured (set synth.model)", id)
	}
	if err != nil {
		return err
	}
	if !speakQuiet {
		fmt.Fprintln(os.Stderr, faint(fmt.Sprintf("Playing %s from %s audio", title, s.Backend))) //nolint:errcheck
	}

	err = s.Wait(ctx)
	if ctx.Err() != nil {
		engine.Stop()
		return nil
	}
	if errors.Is(err, playback.ErrStopped) {
		return nil
	}
	return err
}
