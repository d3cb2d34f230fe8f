package tts

import (
	"context"
	"strconv"
	"sync"
)

// Style is one speaking style of a speaker. Its ID is the voice id passed
// to synthesis.
type Style struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Speaker is an entry of the engine's speaker list.
type Speaker struct {
	Name        string  `json:"name"`
	SpeakerUUID string  `json:"speaker_uuid"`
	Styles      []Style `json:"styles"`
}

// SpeakerSource fetches the speaker list from an engine.
type SpeakerSource interface {
	FetchSpeakers(ctx context.Context) ([]Speaker, error)
}

// VoiceCatalog caches the speaker list after the first successful fetch.
// The cache has no expiry; Refresh is the only way to invalidate it.
type VoiceCatalog struct {
	source SpeakerSource

	mu     sync.Mutex
	voices []Voice
	loaded bool
}

// NewVoiceCatalog creates a catalog backed by source.
func NewVoiceCatalog(source SpeakerSource) *VoiceCatalog {
	return &VoiceCatalog{source: source}
}

// Voices returns the cached voices, fetching them on first use.
func (c *VoiceCatalog) Voices(ctx context.Context) ([]Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := c.load(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out, nil
}

// Refresh refetches the speaker list. On failure the previous cache is kept.
func (c *VoiceCatalog) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *VoiceCatalog) load(ctx context.Context) error {
	speakers, err := c.source.FetchSpeakers(ctx)
	if err != nil {
		return err
	}
	c.voices = FlattenSpeakers(speakers)
	c.loaded = true
	return nil
}

// FlattenSpeakers lists every style as a voice named "speaker(style)",
// preserving the engine's order.
func FlattenSpeakers(speakers []Speaker) []Voice {
	var voices []Voice
	for _, sp := range speakers {
		for _, st := range sp.Styles {
			voices = append(voices, Voice{
				ID:          strconv.Itoa(st.ID),
				DisplayName: sp.Name + "(" + st.Name + ")",
			})
		}
	}
	return voices
}
