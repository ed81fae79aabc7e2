package summary

import (
	"strings"
	"testing"

	"github.com/lucidmem/recall/core"
)

func TestBuildTranscript(t *testing.T) {
	messages := []*core.Message{
		{AuthorID: "alice", CleanContent: "when is the deploy"},
		{AuthorID: "bob", Content: "friday   at  noon"},
	}
	got := buildTranscript(messages, 40)
	want := "alice: when is the deploy\nbob: friday at noon\n"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

func TestBuildTranscriptKeepsNewest(t *testing.T) {
	var messages []*core.Message
	for _, c := range []string{"first", "second", "third"} {
		messages = append(messages, &core.Message{AuthorID: "alice", CleanContent: c})
	}
	got := buildTranscript(messages, 2)
	if strings.Contains(got, "first") {
		t.Errorf("capped transcript should drop the oldest message: %q", got)
	}
	if !strings.Contains(got, "second") || !strings.Contains(got, "third") {
		t.Errorf("capped transcript missing newest messages: %q", got)
	}
}
