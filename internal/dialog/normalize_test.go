package dialog

import (
	"strings"
	"testing"
)

func TestNormalizeSpeech(t *testing.T) {
	stage := Stage{ID: "opening", Placeholder: "the caller did not say how they are feeling"}

	tests := []struct {
		name       string
		raw        string
		confidence float64
		floor      float64
		want       string
	}{
		{"plain input", "I am doing well", 0.9, 0.4, "I am doing well"},
		{"empty input", "", 0.9, 0.4, stage.Placeholder},
		{"whitespace only", "   \t\n  ", 0.9, 0.4, stage.Placeholder},
		{"low confidence", "mumble mumble", 0.2, 0.4, stage.Placeholder},
		{"zero confidence not reported", "clear words", 0, 0.4, "clear words"},
		{"floor disabled", "quiet words", 0.1, 0, "quiet words"},
		{"collapses whitespace", "  spaced \t out \n words ", 0.9, 0.4, "spaced out words"},
		{"strips control characters", "hi\x00the\x07re", 0.9, 0.4, "hithere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSpeech(tt.raw, tt.confidence, tt.floor, stage)
			if got != tt.want {
				t.Errorf("NormalizeSpeech(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			if got == "" {
				t.Error("NormalizeSpeech must never return an empty string")
			}
		})
	}
}

func TestNormalizeSpeechStagePlaceholderFallback(t *testing.T) {
	got := NormalizeSpeech("", 0, 0, Stage{ID: "bare"})
	if got != defaultPlaceholder {
		t.Errorf("NormalizeSpeech() = %q, want default placeholder", got)
	}
}

func TestNormalizeSpeechTruncatesLongInput(t *testing.T) {
	long := strings.Repeat("word ", 400)
	got := NormalizeSpeech(long, 0.9, 0, Stage{ID: "opening", Placeholder: "p"})
	if len([]rune(got)) > maxInputRunes {
		t.Errorf("normalized length = %d, want <= %d", len([]rune(got)), maxInputRunes)
	}
}
