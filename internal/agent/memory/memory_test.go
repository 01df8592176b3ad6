package memory

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/wikirag-core/server/internal/agent/model"
	"github.com/wikirag-core/server/internal/agent/repo"
)

func TestAppendAndSnapshotPreserveOrder(t *testing.T) {
	ctx := context.Background()
	mem := New(repo.NewInMemoryConversationRepository(), "c1", model.ConversationConfig{})

	inputs := []*schema.Message{
		schema.UserMessage("one"),
		schema.AssistantMessage("two", nil),
		schema.UserMessage("three"),
	}
	for _, m := range inputs {
		if err := mem.Append(ctx, m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := mem.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(got) != len(inputs) {
		t.Fatalf("snapshot holds %d messages, want %d", len(got), len(inputs))
	}
	for i := range inputs {
		if got[i].Content != inputs[i].Content {
			t.Errorf("message %d = %q, want %q", i, got[i].Content, inputs[i].Content)
		}
	}
}

func TestSnapshotTrimsViewNotLog(t *testing.T) {
	ctx := context.Background()
	r := repo.NewInMemoryConversationRepository()
	mem := New(r, "c1", model.ConversationConfig{MaxMessages: 2})

	for _, s := range []string{"a", "b", "c", "d"} {
		if err := mem.Append(ctx, schema.UserMessage(s)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := mem.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(got) != 2 || got[0].Content != "c" || got[1].Content != "d" {
		t.Errorf("trimmed view = %+v, want the two most recent", got)
	}

	// The stored log keeps everything.
	n, err := mem.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 4 {
		t.Errorf("stored log holds %d messages, want 4", n)
	}
}
