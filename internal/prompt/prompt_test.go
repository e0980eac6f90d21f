package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/kbukum/localchat/internal/conversation"
)

func history() []conversation.Turn {
	return []conversation.Turn{
		{Seq: 1, Role: conversation.RoleUser, Content: "What is Go?"},
		{Seq: 2, Role: conversation.RoleAssistant, Content: "A programming language."},
	}
}

func TestBuildFormat(t *testing.T) {
	tmpl := DefaultTemplate()
	got := tmpl.Build("Be nice.", history(), "Who made it?")

	want := "Be nice.\n\n" +
		"### User:\nWhat is Go?\n\n" +
		"### Assistant:\nA programming language.\n\n" +
		"### User:\nWho made it?\n\n" +
		"### Assistant:\n"
	if got.Text != want {
		t.Errorf("Build =\n%q\nwant\n%q", got.Text, want)
	}
	if got.HistoryTurns != 2 {
		t.Errorf("HistoryTurns = %d", got.HistoryTurns)
	}
	if got.PrefixLen != len("Be nice.\n\n") {
		t.Errorf("PrefixLen = %d", got.PrefixLen)
	}
}

func TestBuildFirstTurnMatchesSingleShotPrompt(t *testing.T) {
	got := DefaultTemplate().Build(DefaultInstruction, nil, "Hello")
	want := DefaultInstruction + "\n\n### User:\nHello\n\n### Assistant:\n"
	if got.Text != want {
		t.Errorf("Build = %q", got.Text)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	tmpl := DefaultTemplate()
	a := tmpl.Build(DefaultInstruction, history(), "again")
	b := tmpl.Build(DefaultInstruction, history(), "again")
	if a != b {
		t.Error("identical inputs produced different snapshots")
	}
}

func TestPrefixIsBytePrefix(t *testing.T) {
	tmpl := DefaultTemplate()
	prefix := tmpl.Prefix(DefaultInstruction)
	for _, h := range [][]conversation.Turn{nil, history()} {
		snap := tmpl.Build(DefaultInstruction, h, "x")
		if !strings.HasPrefix(snap.Text, prefix) {
			t.Errorf("prompt does not start with prefix: %q", snap.Text)
		}
		if snap.Text[:snap.PrefixLen] != prefix {
			t.Errorf("PrefixLen %d does not match prefix", snap.PrefixLen)
		}
	}
}

func TestTemplateApplyDefaults(t *testing.T) {
	tmpl := Template{UserMarker: "USER:"}
	tmpl.ApplyDefaults()
	if tmpl.UserMarker != "USER:" || tmpl.AssistantMarker != "### Assistant:" || len(tmpl.Stop) != 2 {
		t.Errorf("ApplyDefaults = %+v", tmpl)
	}
}

func TestCharEstimator(t *testing.T) {
	tests := []struct {
		text string
		per  int
		want int
	}{
		{"", 0, 0},
		{"abc", 0, 1},
		{"abcd", 0, 1},
		{"abcde", 0, 2},
		{"héllo", 2, 3},
	}
	for _, tt := range tests {
		got, err := CharEstimator{CharsPerToken: tt.per}.CountTokens(context.Background(), tt.text)
		if err != nil || got != tt.want {
			t.Errorf("CountTokens(%q, %d) = %d, %v; want %d", tt.text, tt.per, got, err, tt.want)
		}
	}
}

func TestMeasureGrowsWithHistory(t *testing.T) {
	m := Measure(DefaultTemplate(), CharEstimator{}, DefaultInstruction, "Hello")
	ctx := context.Background()
	empty, _ := m(ctx, nil)
	full, _ := m(ctx, history())
	if full <= empty {
		t.Errorf("measure(history)=%d not above measure(nil)=%d", full, empty)
	}
}
