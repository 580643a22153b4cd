package slug

import (
	"strings"
	"testing"
)

func TestMake(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"記号を除去して連結", "OpenAI Announces GPT-5!! The Future???", "openai-announces-gpt-5-the-future"},
		{"連続空白", "Deep   Learning   Today", "deep-learning-today"},
		{"連続ハイフン", "AI -- The Next Step", "ai-the-next-step"},
		{"前後の空白と記号", "  ...Hello World...  ", "hello-world"},
		{"アンダースコアは保持", "snake_case title", "snake_case-title"},
		{"非ASCIIは除去", "Café AI ニュース", "caf-ai"},
		{"空になる場合はフォールバック", "!!!", Fallback},
		{"空文字列", "", Fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Make(tt.title); got != tt.want {
				t.Errorf("Make(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestMake_TruncatesTo50(t *testing.T) {
	title := "Researchers unveil a remarkably efficient transformer architecture for edge devices"
	got := Make(title)

	if len(got) > MaxLength {
		t.Errorf("len(Make()) = %d, want <= %d", len(got), MaxLength)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("truncated slug should not end with hyphen: %q", got)
	}
	if !strings.HasPrefix(got, "researchers-unveil-a-remarkably-efficient") {
		t.Errorf("unexpected slug: %q", got)
	}
}

func TestMake_Deterministic(t *testing.T) {
	title := "Google AI: New Results on Neural Networks"
	if Make(title) != Make(title) {
		t.Error("Make should be deterministic")
	}
}

func TestCandidate(t *testing.T) {
	base := "openai-announces-gpt-5"
	if got := Candidate(base, 1); got != base {
		t.Errorf("Candidate(base, 1) = %q, want %q", got, base)
	}
	if got := Candidate(base, 2); got != base+"-2" {
		t.Errorf("Candidate(base, 2) = %q, want %q", got, base+"-2")
	}

	long := strings.Repeat("a", MaxLength)
	got := Candidate(long, 12)
	if len(got) > MaxLength {
		t.Errorf("len(Candidate(long, 12)) = %d, want <= %d", len(got), MaxLength)
	}
	if !strings.HasSuffix(got, "-12") {
		t.Errorf("Candidate(long, 12) = %q, want suffix -12", got)
	}
}
