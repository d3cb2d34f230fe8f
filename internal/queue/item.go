package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/voxline/internal/directive"
	"github.com/dgnsrekt/voxline/internal/params"
)

// Item is one directive waiting for the worker.
type Item struct {
	ID           string
	SubmissionID string
	Directive    directive.Directive
	// Params is the snapshot taken when the sequence was submitted. Only
	// TemporaryPitch is authoritative; the rest is read live at dispatch.
	Params params.Parameters
	// Epoch is stamped at enqueue time and compared against the queue's
	// current epoch before audio is fed.
	Epoch     uint64
	CreatedAt time.Time

	shutdown bool
}

// NewItem creates an item with a unique ID.
func NewItem(submissionID string, d directive.Directive, p params.Parameters) *Item {
	return &Item{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		Directive:    d,
		Params:       p,
		CreatedAt:    time.Now(),
	}
}

// Urgent reports whether the item may run inline on the caller. Items that
// touch the audio device never do.
func (i *Item) Urgent() bool {
	return !i.shutdown && !directive.TouchesAudio(i.Directive)
}

// Kind returns the directive kind, for logging.
func (i *Item) Kind() string {
	if i.shutdown {
		return "shutdown"
	}
	return directive.KindOf(i.Directive).String()
}

func (i *Item) discardable() bool {
	return !i.shutdown && directive.Discardable(i.Directive)
}

func (i *Item) endsSequence() bool {
	return !i.shutdown && directive.KindOf(i.Directive) == directive.KindEndOfSequence
}

func shutdownItem() *Item {
	return &Item{ID: "shutdown", shutdown: true, CreatedAt: time.Now()}
}
