package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/voxline/internal/audio"
	"github.com/dgnsrekt/voxline/internal/directive"
	"github.com/dgnsrekt/voxline/internal/params"
	"github.com/dgnsrekt/voxline/internal/queue"
	"github.com/dgnsrekt/voxline/internal/tts"
)

// ErrSynthesisFailed wraps engine errors for a single utterance.
var ErrSynthesisFailed = errors.New("playback synthesis failed")

// Generations tracks cancellation epochs. The queue implements it.
type Generations interface {
	IsCurrent(epoch uint64) bool
	FinishSequence(epoch uint64)
}

// Handler processes queued directives: it synthesizes utterances, feeds
// audio to the sink and reports progress.
type Handler struct {
	engine tts.Engine
	sink   Sink
	store  *params.Store
	gens   Generations
	notify directive.NotifyFunc
	logger *slog.Logger
}

// NewHandler creates a handler. notify may be nil.
func NewHandler(
	engine tts.Engine,
	sink Sink,
	store *params.Store,
	gens Generations,
	notify directive.NotifyFunc,
	logger *slog.Logger,
) *Handler {
	if notify == nil {
		notify = func(directive.Notification) {}
	}
	return &Handler{
		engine: engine,
		sink:   sink,
		store:  store,
		gens:   gens,
		notify: notify,
		logger: logger,
	}
}

// Handle processes a single item.
// This is the function passed to queue.SetPlaybackHandler.
func (h *Handler) Handle(ctx context.Context, item *queue.Item) error {
	switch d := item.Directive.(type) {
	case directive.Utterance:
		return h.speak(ctx, item, d)

	case directive.Silence:
		return h.silence(ctx, item, d.DurationMs)

	case directive.IndexMarker:
		if h.gens.IsCurrent(item.Epoch) {
			h.notify(directive.Notification{Index: d.Index})
		}
		return nil

	case directive.PitchOverride:
		h.store.SetTemporaryPitch(d.Value)
		return nil

	case directive.EndOfSequence:
		h.store.ResetTemporaryPitch()
		h.gens.FinishSequence(item.Epoch)
		h.notify(directive.Notification{Done: true})
		h.logger.Debug("sequence complete", "submission_id", item.SubmissionID)
		return nil
	}
	return fmt.Errorf("unhandled directive %T", item.Directive)
}

func (h *Handler) speak(ctx context.Context, item *queue.Item, u directive.Utterance) error {
	// Rate, volume, inflection and voice are read live so out-of-band
	// changes apply to the next utterance; the pitch is the one resolved
	// at this utterance's position in the sequence.
	p := h.store.Snapshot()
	p.TemporaryPitch = item.Params.TemporaryPitch

	h.logger.Debug("synthesizing speech",
		"item_id", item.ID,
		"engine", h.engine.Name(),
		"text_length", len(u.Text),
		"voice", p.Voice,
	)

	result, err := h.engine.Synthesize(ctx, tts.SynthesizeRequest{Text: u.Text, Params: p})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Join(ErrSynthesisFailed, err)
	}
	if result.Empty() {
		h.logger.Debug("utterance produced no audio", "item_id", item.ID)
		return nil
	}

	return h.play(ctx, item, result.Data)
}

// silence plays durationMs of silence in buffers of at most
// audio.MaxSilenceMs, stopping early once the item is cancelled.
func (h *Handler) silence(ctx context.Context, item *queue.Item, durationMs int) error {
	for remaining := durationMs; remaining > 0; remaining -= audio.MaxSilenceMs {
		if ctx.Err() != nil || !h.gens.IsCurrent(item.Epoch) {
			return nil
		}
		if err := h.play(ctx, item, audio.Silence(remaining)); err != nil {
			return err
		}
	}
	return nil
}

// play feeds pcm and waits for it to finish. Audio from an item whose epoch
// was superseded by a cancellation is dropped.
func (h *Handler) play(ctx context.Context, item *queue.Item, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if !h.gens.IsCurrent(item.Epoch) || ctx.Err() != nil {
		h.logger.Debug("discarding stale audio", "item_id", item.ID, "bytes", len(pcm))
		return nil
	}

	if err := h.sink.Feed(ctx, pcm); err != nil {
		return h.sinkError(item, err)
	}
	if err := h.sink.Idle(ctx); err != nil {
		return h.sinkError(item, err)
	}
	return nil
}

func (h *Handler) sinkError(item *queue.Item, err error) error {
	switch {
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
		h.logger.Info("playback interrupted", "item_id", item.ID)
		return nil
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrSinkClosed):
		return queue.Fatal(err)
	}
	h.logger.Error("audio feed failed", "item_id", item.ID, "error", err)
	return err
}
