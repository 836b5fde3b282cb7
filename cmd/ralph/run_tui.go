package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ralph-orchestrator/ralph/internal/dashboard"
	"github.com/ralph-orchestrator/ralph/internal/loop"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// tailPollInterval is how often runWithDashboard re-reads the timeline
// file looking for events written since the last pass. The loop engine
// has no in-process event channel of its own; every event it produces
// is durably appended to timeline.jsonl first, so tailing that file is
// the only way to watch a run live.
const tailPollInterval = 200 * time.Millisecond

// runWithDashboard runs engine.Run with a live bubbletea status view
// in place of plain stdout output.
func runWithDashboard(ctx context.Context, engine *loop.Engine, tasks *ralphmodel.TaskList, opts loop.Options, ledger *session.Ledger) (retResult loop.RunResult, retErr error) {
	verbose := os.Getenv("RALPH_DEBUG") != ""

	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in runWithDashboard: %v", r)
		}
	}()

	program, _ := dashboard.NewProgram(ledger.Meta.SessionID)
	if program == nil {
		return loop.RunResult{}, fmt.Errorf("failed to create dashboard program")
	}

	tailCtx, cancelTail := context.WithCancel(ctx)
	defer cancelTail()
	go tailTimeline(tailCtx, program, ledger.TimelinePath())

	type runOutcome struct {
		result loop.RunResult
		err    error
	}
	engineDone := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				engineDone <- runOutcome{err: fmt.Errorf("panic in loop engine: %v", r)}
			}
		}()
		result, err := engine.Run(ctx, tasks, opts)
		engineDone <- runOutcome{result: result, err: err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("panic in dashboard: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	if verbose {
		fmt.Fprintln(os.Stderr, "[DEBUG] runWithDashboard: waiting for loop or dashboard to finish")
	}

	select {
	case outcome := <-engineDone:
		cancelTail()
		msg := "all tasks completed"
		if outcome.err != nil {
			msg = outcome.err.Error()
		} else if !outcome.result.AllPassed {
			msg = "task execution failed"
		}
		program.Send(dashboard.DoneMsg{Success: outcome.err == nil && outcome.result.AllPassed, Message: msg})
		<-tuiDone
		return outcome.result, outcome.err

	case err := <-tuiDone:
		return loop.RunResult{}, err
	}
}

// tailTimeline polls path for newly appended events and forwards each
// one to program until ctx is cancelled.
func tailTimeline(ctx context.Context, program *tea.Program, path string) {
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := timeline.ReadAll(path)
			if err != nil || len(events) <= seen {
				continue
			}
			for _, evt := range events[seen:] {
				program.Send(dashboard.EventMsg{Event: evt})
			}
			seen = len(events)
		}
	}
}
