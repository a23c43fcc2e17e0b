package dialog

import (
	"strings"
	"testing"
)

func TestFallbackReplyCategories(t *testing.T) {
	tests := []struct {
		name    string
		stageID string
		text    string
		want    string
	}{
		{"positive affect", "opening", "I'm feeling really good today", "That's wonderful to hear"},
		{"negative affect", "opening", "honestly a bit sad and tired", "I'm sorry to hear that"},
		{"negative beats topic", "daily", "I lost my job last week", "I'm sorry to hear that"},
		{"work topic", "daily", "mostly just work at the office", "Work certainly keeps life busy"},
		{"family topic", "daily", "my grandchildren visited", "Family is so important"},
		{"technology topic", "daily", "fighting with my computer again", "Technology can be a blessing"},
		{"reflection nothing", "reflection", "no, nothing really", "That's perfectly alright"},
		{"word boundary", "reflection", "I know the answer", "I hear you saying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackReply(tt.stageID, tt.text)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("FallbackReply(%q, %q) = %q, want prefix %q", tt.stageID, tt.text, got, tt.want)
			}
		})
	}
}

func TestFallbackReplyDeterministic(t *testing.T) {
	inputs := []struct{ stage, text string }{
		{"opening", "feeling great"},
		{"daily", "some unclassifiable rambling about weather patterns"},
		{"reflection", ""},
		{"unknown-stage", "whatever"},
	}

	for _, in := range inputs {
		first := FallbackReply(in.stage, in.text)
		for i := 0; i < 10; i++ {
			if got := FallbackReply(in.stage, in.text); got != first {
				t.Fatalf("FallbackReply(%q, %q) not deterministic: %q vs %q", in.stage, in.text, first, got)
			}
		}
		if first == "" {
			t.Errorf("FallbackReply(%q, %q) returned empty reply", in.stage, in.text)
		}
	}
}

func TestFallbackReplyCatchAllEchoesPrefix(t *testing.T) {
	text := "the quick brown fox jumped over seventeen lazy dogs while the orchestra played on"
	got := FallbackReply("opening", text)

	if !strings.Contains(got, "the quick brown fox") {
		t.Errorf("catch-all reply should echo a prefix of the input: %q", got)
	}
	if strings.Contains(got, "orchestra played on") {
		t.Errorf("catch-all echo should be truncated: %q", got)
	}
}

func TestFallbackReplyUnknownStageUsesDefaults(t *testing.T) {
	got := FallbackReply("never-configured", "life is good")
	if !strings.HasPrefix(got, "That's wonderful to hear") {
		t.Errorf("unknown stage should fall through to default rules: %q", got)
	}
}
