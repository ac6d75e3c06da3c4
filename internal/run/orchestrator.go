package run

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/model"
)

// Markup selects the reply markup attached to a message.
type Markup int

const (
	// MarkupKeep leaves any existing markup alone.
	MarkupKeep Markup = iota
	// MarkupCancel attaches the inline cancel button.
	MarkupCancel
	// MarkupClear removes the inline keyboard.
	MarkupClear
)

// Transport is the message surface a run needs: send a reply and edit
// it in place.
type Transport interface {
	Send(ctx context.Context, chatID int64, threadID, replyTo int, text string, markup Markup, notify bool) (model.MessageRef, error)
	Edit(ctx context.Context, ref model.MessageRef, text string, markup Markup) error
}

// Options describes one engine run.
type Options struct {
	ChatID      int64
	ThreadID    int
	UserMsgID   int
	Prompt      string
	Resume      *model.ResumeToken
	Context     *model.RunContext
	ContextLine string
	Cwd         string
	// FinalNotify sends the answer as a fresh reply so the user gets
	// a notification; the progress message keeps only the summary.
	FinalNotify bool
	// OnThreadKnown publishes the session id to the scheduler as soon
	// as the engine announces it. The returned done func is called
	// when this turn has fully finished.
	OnThreadKnown func(tok model.ResumeToken) (done func())
}

// Orchestrator owns engine invocations end to end: progress message,
// event streaming, coalesced edits, cancellation, final presentation.
type Orchestrator struct {
	Transport    Transport
	Tasks        *Tasks
	EditInterval time.Duration
	Tracer       trace.Tracer
}

// Execute runs one engine turn to completion. It blocks until the run
// has been presented and released; callers decide whether to spawn it.
func (o *Orchestrator) Execute(ctx context.Context, runner engine.Runner, opts Options) {
	start := time.Now()
	log := slog.With(
		"run_id", uuid.NewString(),
		"engine", runner.ID(),
		"chat_id", opts.ChatID,
		"user_msg_id", opts.UserMsgID,
	)

	if o.Tracer != nil {
		var span trace.Span
		ctx, span = o.Tracer.Start(ctx, "takopi.run", trace.WithAttributes(
			attribute.String("engine", string(runner.ID())),
			attribute.Bool("resume", opts.Resume != nil),
		))
		defer span.End()
	}

	tracker := NewTracker()
	tracker.SetResume(opts.Resume)
	presenter := Presenter{ContextLine: opts.ContextLine, FormatResume: runner.FormatResume}

	ref, err := o.Transport.Send(ctx, opts.ChatID, opts.ThreadID, opts.UserMsgID,
		presenter.RenderProgress(tracker, 0, "starting"), MarkupCancel, false)
	if err != nil {
		log.Error("run.progress_send_failed", "error", err)
		return
	}

	task := newTask(runner.ID(), ref, opts.ChatID, opts.ThreadID, opts.UserMsgID, opts.Context)
	o.Tasks.add(task)
	defer func() {
		o.Tasks.remove(ref)
		close(task.done)
	}()

	var threadDone func()
	defer func() {
		if threadDone != nil {
			threadDone()
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	editor := NewEditor(o.EditInterval, func(ctx context.Context, text string) error {
		return o.Transport.Edit(ctx, ref, text, MarkupKeep)
	})

	events := make(chan model.Event, 256)
	runErr := make(chan error, 1)
	go func() {
		err := runner.Run(runCtx, engine.Request{
			Prompt: opts.Prompt,
			Resume: opts.Resume,
			Dir:    opts.Cwd,
		}, func(ev model.Event) {
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		})
		close(events)
		runErr <- err
	}()

	var final *model.TurnEndEvent
	cancelC := task.CancelRequested()

streaming:
	for {
		select {
		case <-cancelC:
			cancelC = nil
			log.Info("run.cancel_requested")
			cancelRun()
		case ev, ok := <-events:
			if !ok {
				break streaming
			}
			switch e := ev.(type) {
			case model.StartedEvent:
				if e.Resume != nil {
					task.setResume(*e.Resume)
					if opts.OnThreadKnown != nil && threadDone == nil {
						threadDone = opts.OnThreadKnown(*e.Resume)
					}
				}
				tracker.NoteEvent(ev)
				editor.Submit(ctx, presenter.RenderProgress(tracker, time.Since(start), "working"))
			case model.TurnEndEvent:
				turn := e
				final = &turn
			default:
				if tracker.NoteEvent(ev) {
					editor.Submit(ctx, presenter.RenderProgress(tracker, time.Since(start), "working"))
				}
			}
		}
	}

	err = <-runErr
	editor.Wait()
	elapsed := time.Since(start)

	status, answer := outcome(task, final, err)
	log.Info("run.finished", "status", status, "elapsed", elapsed.Round(time.Second), "steps", tracker.Steps())
	if o.Tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("status", status), attribute.Int("steps", tracker.Steps()))
		if status == "error" {
			span.SetStatus(codes.Error, answer)
		}
	}

	// Outlive the parent context so a shutdown still clears the cancel
	// button and leaves a terminal message behind.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	o.present(finalCtx, log, presenter, tracker, ref, opts, elapsed, status, answer)
}

func outcome(task *Task, final *model.TurnEndEvent, err error) (status, answer string) {
	switch {
	case task.Cancelled():
		return "cancelled", ""
	case err != nil:
		return "error", "error:\n" + err.Error()
	case final == nil:
		return "error", "error:\nengine stopped without a result"
	case final.Failed:
		return "error", final.Answer
	default:
		return "done", final.Answer
	}
}

func (o *Orchestrator) present(ctx context.Context, log *slog.Logger, presenter Presenter, tracker *Tracker, ref model.MessageRef, opts Options, elapsed time.Duration, status, answer string) {
	finalText := presenter.RenderFinal(tracker, elapsed, status, answer)

	if opts.FinalNotify && status != "cancelled" {
		summary := presenter.RenderFinal(tracker, elapsed, status, "")
		if err := o.Transport.Edit(ctx, ref, summary, MarkupClear); err != nil {
			log.Warn("run.final_edit_failed", "error", err)
		}
		if _, err := o.Transport.Send(ctx, opts.ChatID, opts.ThreadID, opts.UserMsgID, finalText, MarkupKeep, true); err != nil {
			log.Warn("run.final_notify_failed", "error", err)
			// The summary already landed; fall back to editing the
			// answer into the progress message.
			_ = o.Transport.Edit(ctx, ref, finalText, MarkupClear)
		}
		return
	}

	if err := o.Transport.Edit(ctx, ref, finalText, MarkupClear); err != nil {
		log.Warn("run.final_edit_failed", "error", err)
	}
}
