package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/x/term"
	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/session"
	"github.com/koscakluka/ema-voice/internal/config"
	"golang.org/x/sync/errgroup"
)

// agentExitError reports the exit code of an agent that ended the run.
type agentExitError struct {
	code int
}

func (e agentExitError) Error() string {
	return fmt.Sprintf("agent exited with code %d", e.code)
}

// runAgent drives the agent in a pseudo-terminal on the user's terminal. The
// user's keyboard is forwarded to the agent while speech is typed into it.
func runAgent(ctx context.Context, cfg *config.Config, stdin *os.File, stdout io.Writer) error {
	ctx, span := tracer.Start(ctx, "run agent")
	defer span.End()

	toggle, err := parseToggleKey(cfg.Session.ToggleListeningKey)
	if err != nil {
		return err
	}

	controllerOptions := []session.ControllerOption{
		session.WithOutput(stdout),
		session.WithTerm(cfg.Session.Term),
		session.WithWriteTimeout(cfg.Session.WriteTimeout),
		session.WithDir(cfg.Session.Dir),
		session.WithEnv(cfg.Session.Env...),
	}
	interactive := term.IsTerminal(stdin.Fd())
	if interactive {
		if cols, rows, err := term.GetSize(stdin.Fd()); err == nil {
			controllerOptions = append(controllerOptions, session.WithWindowSize(uint16(rows), uint16(cols)))
		}
	}
	controller, err := session.NewController(cfg.Session.Command, controllerOptions...)
	if err != nil {
		return err
	}
	defer controller.Close()

	source, err := newSource(cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	defer source.Close()

	recognizer, closer, err := newRecognizer(ctx, cfg.Transcription, cfg.InterpreterConfig().Phrases)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer closer.Close()

	classifier, classifierCloser, err := newClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to create speech classifier: %w", err)
	}
	defer classifierCloser.Close()

	telemetry := newTelemetry(cfg)
	options, err := pipelineOptions(cfg, source, classifier, recognizer, controller, telemetry.handlers...)
	if err != nil {
		return err
	}
	pipeline, err := orchestration.NewPipeline(options...)
	if err != nil {
		return err
	}

	if err := controller.Start(ctx); err != nil {
		return err
	}

	if interactive {
		state, err := term.MakeRaw(stdin.Fd())
		if err != nil {
			return fmt.Errorf("failed to switch terminal to raw mode: %w", err)
		}
		defer term.Restore(stdin.Fd(), state)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return pipeline.Run(groupCtx) })
	for _, service := range telemetry.services {
		group.Go(func() error { return service(groupCtx) })
	}
	group.Go(func() error {
		return watchAgent(groupCtx, controller, cfg.Session.RestartOnExit)
	})
	if interactive {
		group.Go(func() error {
			watchWindowSize(groupCtx, stdin, controller)
			return nil
		})
	}

	// Reading stdin cannot be interrupted, so the reader is left behind when
	// the run ends.
	go forwardInput(stdin, toggle, cfg.Session.PassthroughInput, controller.WriteInput, func() {
		listening := pipeline.ToggleListening()
		logger.Info("listening toggled", "listening", listening)
	})

	return group.Wait()
}

// watchAgent ends the run when the agent exits, unless restarts are wanted or
// the exit was part of a restart.
func watchAgent(ctx context.Context, controller *session.Controller, restartOnExit bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-controller.Exited():
		}

		// A restart holds the controller until the new process runs.
		if controller.IsAlive() {
			continue
		}
		if restartOnExit {
			// The dispatcher notices the dead session and restarts it.
			select {
			case <-ctx.Done():
				return nil
			case <-waitAlive(ctx, controller):
				continue
			}
		}
		return agentExitError{code: controller.ExitCode()}
	}
}

func waitAlive(ctx context.Context, controller *session.Controller) <-chan struct{} {
	alive := make(chan struct{})
	go func() {
		defer close(alive)
		for !controller.IsAlive() {
			if !sleepContext(ctx, livenessPoll) {
				return
			}
		}
	}()
	return alive
}

func watchWindowSize(ctx context.Context, stdin *os.File, controller *session.Controller) {
	resized := make(chan os.Signal, 1)
	signal.Notify(resized, syscall.SIGWINCH)
	defer signal.Stop(resized)

	for {
		select {
		case <-ctx.Done():
			return
		case <-resized:
			cols, rows, err := term.GetSize(stdin.Fd())
			if err != nil {
				continue
			}
			if err := controller.Resize(uint16(rows), uint16(cols)); err != nil {
				logger.Warn("failed to resize agent terminal", "error", err)
			}
		}
	}
}

// forwardInput copies keyboard input to the agent. The toggle byte switches
// listening instead of being forwarded. With passthrough off only the toggle
// is acted on.
func forwardInput(r io.Reader, toggle byte, passthrough bool, write func([]byte) error, onToggle func()) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				i := bytes.IndexByte(chunk, toggle)
				if i < 0 {
					i = len(chunk)
				}
				if passthrough && i > 0 {
					if err := write(bytes.Clone(chunk[:i])); err != nil && !errors.Is(err, session.ErrSessionFault) {
						logger.Warn("failed to forward input", "error", err)
					}
				}
				if i < len(chunk) {
					onToggle()
					i++
				}
				chunk = chunk[i:]
			}
		}
		if err != nil {
			return
		}
	}
}
