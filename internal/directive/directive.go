// Package directive defines the elements of a speech sequence and the
// progress notifications reported back to the host.
package directive

import "fmt"

// Directive is one element of a speech sequence.
// The set of variants is closed: Utterance, Silence, IndexMarker,
// PitchOverride and EndOfSequence.
type Directive interface {
	isDirective()
}

// Utterance is text to synthesize and play.
type Utterance struct {
	Text string
}

// Silence inserts DurationMs milliseconds of silence.
type Silence struct {
	DurationMs int
}

// IndexMarker is a caller-visible progress checkpoint. It carries no audio.
type IndexMarker struct {
	Index int
}

// PitchOverride changes the temporary pitch for the rest of the sequence.
type PitchOverride struct {
	Value int
}

// EndOfSequence marks the end of a submission and triggers the done notification.
type EndOfSequence struct{}

func (Utterance) isDirective()     {}
func (Silence) isDirective()       {}
func (IndexMarker) isDirective()   {}
func (PitchOverride) isDirective() {}
func (EndOfSequence) isDirective() {}

// Kind classifies a directive.
type Kind int

const (
	KindUtterance Kind = iota
	KindSilence
	KindIndexMarker
	KindPitchOverride
	KindEndOfSequence
)

var kindNames = map[Kind]string{
	KindUtterance:     "utterance",
	KindSilence:       "silence",
	KindIndexMarker:   "index",
	KindPitchOverride: "pitch",
	KindEndOfSequence: "end",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf returns the kind of d. It panics on a nil directive.
func KindOf(d Directive) Kind {
	switch d.(type) {
	case Utterance:
		return KindUtterance
	case Silence:
		return KindSilence
	case IndexMarker:
		return KindIndexMarker
	case PitchOverride:
		return KindPitchOverride
	case EndOfSequence:
		return KindEndOfSequence
	}
	panic(fmt.Sprintf("directive: unknown directive %T", d))
}

// Discardable reports whether a pending directive is dropped by cancellation.
// Pitch overrides and end-of-sequence markers survive so that parameter state
// and the done notification stay consistent.
func Discardable(d Directive) bool {
	switch KindOf(d) {
	case KindUtterance, KindSilence, KindIndexMarker:
		return true
	}
	return false
}

// TouchesAudio reports whether processing d interacts with the audio device.
func TouchesAudio(d Directive) bool {
	switch KindOf(d) {
	case KindUtterance, KindSilence:
		return true
	}
	return false
}

// Notification is an index-reached or done-speaking event.
// Done is true for the single completion event of a sequence; Index is
// meaningful only when Done is false.
type Notification struct {
	Index int  `json:"index"`
	Done  bool `json:"done"`
}

// NotifyFunc receives notifications in the order they occur.
type NotifyFunc func(Notification)
