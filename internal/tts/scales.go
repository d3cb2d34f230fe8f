package tts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/voxline/internal/params"
)

// Scale maps a 1-100 parameter to an engine scale as (value + Offset) * Factor.
type Scale struct {
	Offset float64 `yaml:"offset"`
	Factor float64 `yaml:"factor"`
}

// Apply maps value onto the scale.
func (s Scale) Apply(value int) float64 {
	return (float64(value) + s.Offset) * s.Factor
}

// ScaleMapping converts parameters into the audio query overlay fields.
type ScaleMapping struct {
	Speed             Scale   `yaml:"speed"`
	Pitch             Scale   `yaml:"pitch"`
	Intonation        Scale   `yaml:"intonation"`
	Volume            Scale   `yaml:"volume"`
	PrePhonemeLength  float64 `yaml:"pre_phoneme_length"`
	PostPhonemeLength float64 `yaml:"post_phoneme_length"`
}

// DefaultScaleMapping returns the mapping where every parameter at 50 is
// neutral, except speed which runs slightly fast.
func DefaultScaleMapping() ScaleMapping {
	return ScaleMapping{
		Speed:      Scale{Offset: 20, Factor: 0.02},
		Pitch:      Scale{Offset: -50, Factor: 0.0015},
		Intonation: Scale{Offset: 0, Factor: 0.02},
		Volume:     Scale{Offset: 0, Factor: 0.02},
	}
}

// LoadScaleMapping reads a YAML file over the defaults. Keys missing from
// the file keep their default value. An empty path returns the defaults.
func LoadScaleMapping(path string) (ScaleMapping, error) {
	m := DefaultScaleMapping()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read scales file: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse scales file: %w", err)
	}
	return m, nil
}

// QueryOverlay is the set of audio query fields replaced before rendering.
type QueryOverlay struct {
	SpeedScale        float64
	PitchScale        float64
	IntonationScale   float64
	VolumeScale       float64
	PrePhonemeLength  float64
	PostPhonemeLength float64
}

// Overlay computes the query fields for a parameter snapshot. Pitch comes
// from the temporary pitch so in-sequence overrides apply.
func (m ScaleMapping) Overlay(p params.Parameters) QueryOverlay {
	return QueryOverlay{
		SpeedScale:        m.Speed.Apply(p.Rate),
		PitchScale:        m.Pitch.Apply(p.TemporaryPitch),
		IntonationScale:   m.Intonation.Apply(p.Inflection),
		VolumeScale:       m.Volume.Apply(p.Volume),
		PrePhonemeLength:  m.PrePhonemeLength,
		PostPhonemeLength: m.PostPhonemeLength,
	}
}

func (o QueryOverlay) apply(query map[string]any) {
	query["speedScale"] = o.SpeedScale
	query["pitchScale"] = o.PitchScale
	query["intonationScale"] = o.IntonationScale
	query["volumeScale"] = o.VolumeScale
	query["prePhonemeLength"] = o.PrePhonemeLength
	query["postPhonemeLength"] = o.PostPhonemeLength
}
