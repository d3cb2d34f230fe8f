package tts

import "testing"

func TestAudioResult_Empty(t *testing.T) {
	tests := []struct {
		name   string
		result *AudioResult
		want   bool
	}{
		{name: "nil", result: nil, want: true},
		{name: "no data", result: &AudioResult{SampleRate: 24000}, want: true},
		{name: "pcm", result: &AudioResult{Data: []byte{0, 0}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}
