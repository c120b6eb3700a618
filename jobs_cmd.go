package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/jobs"
	"github.com/dgnsrekt/readaloud/internal/logging"
)

var (
	jobID        string
	jobClipboard bool
	resumeWatch  bool
	resumeEvery  time.Duration
	voicesLocale string

	submitCmd = &cobra.Command{
		Use:   "submit [FILE|-]",
		Short: "Submit text for cloud rendering",
		Long:  paragraph(fmt.Sprintf("\n%s text to the cloud renderer. The job is remembered until a poll sees it finish, even across restarts.", keyword("Submit"))),
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSubmit,
	}

	pollCmd = &cobra.Command{
		Use:   "poll ID",
		Short: "Check a pending cloud rendering once",
		Args:  cobra.ExactArgs(1),
		RunE:  runPoll,
	}

	resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Poll every pending cloud rendering",
		Long:  paragraph(fmt.Sprintf("\n%s every job left pending by earlier runs. With --watch it keeps polling until nothing is pending.", keyword("Resume"))),
		Args:  cobra.NoArgs,
		RunE:  runResume,
	}

	renderCmd = &cobra.Command{
		Use:   "render [FILE|-]",
		Short: "Render long text chunk by chunk and cache it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRender,
	}

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List cloud voices",
		Args:  cobra.NoArgs,
		RunE:  runVoices,
	}
)

func init() {
	for _, c := range []*cobra.Command{submitCmd, renderCmd} {
		c.Flags().StringVar(&jobID, "id", "", "content identifier (default derived from the text)")
		c.Flags().BoolVarP(&jobClipboard, "clipboard", "c", false, "read the clipboard")
	}
	resumeCmd.Flags().BoolVarP(&resumeWatch, "watch", "w", false, "keep polling until no job is pending")
	resumeCmd.Flags().DurationVar(&resumeEvery, "interval", 15*time.Second, "time between polls with --watch")
	voicesCmd.Flags().StringVarP(&voicesLocale, "locale", "l", "", "only voices for this locale")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	text, _, err := readText(args, jobClipboard)
	if err != nil {
		return err
	}
	id := jobID
	if id == "" {
		id = contentIDFor(text)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openCloud(ctx)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	job, err := s.poller.Submit(ctx, id, cloudRequest(text))
	if errors.Is(err, jobs.ErrAlreadyPending) {
		return fmt.Errorf("%s is already being rendered; run `readaloud poll %s`", id, id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", keyword("Submitted"), id)
	fmt.Println(faint("job " + job))
	return nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openCloud(ctx)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	res, err := s.poller.Poll(ctx, args[0])
	printResult(args[0], res, err)
	if res.Status == jobs.StatusCompleted {
		enforceCacheLimit(s.cache)
	}
	return err
}

func runResume(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openCloud(ctx)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	pending, err := resumeOnce(ctx, s)
	if err != nil || !resumeWatch {
		return err
	}

	// A file registry also wakes us when another process submits a job.
	changed := make(chan struct{}, 1)
	if fr, ok := s.reg.(*jobs.FileRegistry); ok {
		go func() {
			err := fr.Watch(ctx, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Stopped watching registry", "err", err)
			}
		}()
	}

	ticker := time.NewTicker(resumeEvery)
	defer ticker.Stop()
	for pending > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-changed:
		}
		if pending, err = resumeOnce(ctx, s); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
	fmt.Println(faint("Nothing pending."))
	return nil
}

// resumeOnce polls every pending job and returns how many are still pending.
func resumeOnce(ctx context.Context, s *cloudSession) (int, error) {
	results, err := s.poller.Resume(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	completed := 0
	for _, id := range ids {
		res := results[id]
		printResult(id, res, res.Err)
		if res.Status == jobs.StatusCompleted && res.Err == nil {
			completed++
		}
	}
	if completed > 0 {
		enforceCacheLimit(s.cache)
	}

	left, err := s.poller.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(left), nil
}

func printResult(id string, res jobs.Result, err error) {
	var jf *jobs.JobFailedError
	switch {
	case errors.As(err, &jf):
		fmt.Printf("%s %s %s\n", errorText("failed"), id, faint(jf.Message))
	case err != nil:
		fmt.Printf("%s %s %s\n", errorText("error"), id, faint(err.Error()))
	case res.Status == jobs.StatusCompleted:
		fmt.Printf("%s %s %s\n", keyword("ready"), id, faint(res.Path))
	default:
		fmt.Printf("%s %s\n", res.Status, id)
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	text, _, err := readText(args, jobClipboard)
	if err != nil {
		return err
	}
	id := jobID
	if id == "" {
		id = contentIDFor(text)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}
	m, err := openCache()
	if err != nil {
		return err
	}

	r := jobs.NewRenderer(client, m, jobs.WithRendererLogger(logging.New("render")))
	path, err := r.Render(ctx, id, cloudRequest(text))
	if err != nil {
		return err
	}
	enforceCacheLimit(m)
	fmt.Printf("%s %s %s\n", keyword("ready"), id, faint(path))
	return nil
}

func runVoices(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}
	voices, err := client.Voices(ctx, voicesLocale)
	if err != nil {
		return err
	}
	sort.Slice(voices, func(i, j int) bool {
		if voices[i].Language != voices[j].Language {
			return voices[i].Language < voices[j].Language
		}
		return voices[i].ID < voices[j].ID
	})
	for _, v := range voices {
		fmt.Printf("%-28s %-8s %-8s %s\n", keyword(v.ID), v.Language, strings.ToLower(v.Gender), faint(v.Name))
	}
	return nil
}
