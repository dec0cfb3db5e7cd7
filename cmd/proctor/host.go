package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/proctor/internal/notice"
	"github.com/MrWong99/proctor/internal/session"
)

// consentMode selects how the participant's consent is obtained.
type consentMode string

const (
	consentAsk     consentMode = "ask"
	consentAccept  consentMode = "accept"
	consentDecline consentMode = "decline"
)

// IsValid reports whether m is a recognised consent mode.
func (m consentMode) IsValid() bool {
	switch m {
	case consentAsk, consentAccept, consentDecline:
		return true
	}
	return false
}

// errDeclined ends the run after the participant refused monitoring.
var errDeclined = errors.New("audio monitoring declined")

// consoleHost prints notices to a terminal.
type consoleHost struct {
	mu       sync.Mutex
	out      io.Writer
	declined bool
}

func newConsoleHost(out io.Writer) *consoleHost {
	return &consoleHost{out: out}
}

// Notify implements [notice.Notifier].
func (h *consoleHost) Notify(_ context.Context, n notice.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Level)), n.Text)
	if n.FlagCount > 0 {
		line += fmt.Sprintf(" (flags: %d)", n.FlagCount)
	}
	fmt.Fprintln(h.out, line)
}

// ConsentDeclined implements [session.Host].
func (h *consoleHost) ConsentDeclined() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.declined = true
	fmt.Fprintln(h.out, "Audio monitoring is required to take this exam.")
}

func (h *consoleHost) wasDeclined() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.declined
}

// monitor drives one session through consent and keeps it running until ctx
// ends. It returns errDeclined when the participant refuses and the capture
// error when the microphone cannot be opened.
func monitor(ctx context.Context, ctrl *session.Controller, host *consoleHost, mode consentMode, in io.Reader) error {
	if err := ctrl.Mount(true); err != nil {
		return err
	}

	accepted, err := askConsent(ctx, mode, host.out, in)
	if err != nil {
		return nil
	}
	if !accepted {
		if err := ctrl.Decline(ctx); err != nil {
			return err
		}
		return errDeclined
	}

	if err := ctrl.Accept(ctx); err != nil {
		if errors.Is(err, session.ErrStoppedDuringAcquire) {
			return nil
		}
		return err
	}

	<-ctx.Done()
	slog.Info("deactivating audio monitoring", "flag_count", ctrl.FlagCount())
	return ctrl.SetActive(context.WithoutCancel(ctx), false)
}

// askConsent resolves the consent decision. In ask mode it prompts on out and
// reads one line from in; only "y" or "yes" count as consent. It returns
// ctx.Err() if ctx ends first.
func askConsent(ctx context.Context, mode consentMode, out io.Writer, in io.Reader) (bool, error) {
	switch mode {
	case consentAccept:
		return true, nil
	case consentDecline:
		return false, nil
	}

	fmt.Fprint(out, "This exam records audio anomalies (no recording is stored). Allow microphone monitoring? [y/N] ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
