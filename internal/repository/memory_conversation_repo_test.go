package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/uternity/gateway/internal/model"
)

func TestMemoryConversationRepo_Ensure_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepo()
	now := time.Now()

	created, err := repo.Ensure(ctx, "u1", "s1", now)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !created {
		t.Error("expected first Ensure to create the session")
	}

	_ = repo.Append(ctx, "s1", model.Message{ID: "m1", Role: model.RoleUser, Content: "hi"})

	created, err = repo.Ensure(ctx, "u1", "s1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if created {
		t.Error("expected second Ensure to be a no-op")
	}

	msgs, _ := repo.ListMessages(ctx, "s1")
	if len(msgs) != 1 {
		t.Errorf("existing log must be kept, got %d messages", len(msgs))
	}
}

func TestMemoryConversationRepo_Ensure_OtherOwner_ReturnsConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepo()

	_, _ = repo.Ensure(ctx, "u1", "s1", time.Now())
	_, err := repo.Ensure(ctx, "u2", "s1", time.Now())
	if !model.IsKind(err, model.KindConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestMemoryConversationRepo_Append_KeepsMessageCountInSync(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepo()
	_, _ = repo.Ensure(ctx, "u1", "s1", time.Now())

	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx, "s1", model.Message{ID: "m", Role: model.RoleUser}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	convs, _ := repo.ListByUser(ctx, "u1")
	if len(convs) != 1 {
		t.Fatalf("len(ListByUser()) = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", convs[0].MessageCount)
	}
}

func TestMemoryConversationRepo_ConcurrentAppend(t *testing.T) {
	const n = 50
	ctx := context.Background()
	repo := NewMemoryConversationRepo()
	_, _ = repo.Ensure(ctx, "u1", "s1", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := repo.Append(ctx, "s1", model.Message{ID: fmt.Sprintf("m%d", i), Role: model.RoleUser}); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			convs, _ := repo.ListByUser(ctx, "u1")
			if len(convs) != 1 {
				t.Errorf("len(ListByUser()) = %d, want 1", len(convs))
				return
			}
			if c := convs[0].MessageCount; c < 0 || c > n {
				t.Errorf("MessageCount = %d out of range", c)
			}
		}()
	}
	wg.Wait()

	msgs, _ := repo.ListMessages(ctx, "s1")
	convs, _ := repo.ListByUser(ctx, "u1")
	if len(msgs) != n || convs[0].MessageCount != n {
		t.Errorf("messages = %d, MessageCount = %d, want %d", len(msgs), convs[0].MessageCount, n)
	}
	seen := make(map[string]bool, n)
	for _, m := range msgs {
		seen[m.ID] = true
	}
	if len(seen) != n {
		t.Errorf("distinct messages = %d, want %d", len(seen), n)
	}
}

func TestMemoryConversationRepo_Append_UnknownSession_ReturnsNotFound(t *testing.T) {
	repo := NewMemoryConversationRepo()
	err := repo.Append(context.Background(), "missing", model.Message{ID: "m"})
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMemoryConversationRepo_ListMessages_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepo()
	_, _ = repo.Ensure(ctx, "u1", "s1", time.Now())
	_ = repo.Append(ctx, "s1", model.Message{ID: "m1", Content: "original"})

	msgs, _ := repo.ListMessages(ctx, "s1")
	msgs[0].Content = "mutated"

	again, _ := repo.ListMessages(ctx, "s1")
	if again[0].Content != "original" {
		t.Errorf("stored message was mutated: %q", again[0].Content)
	}
}

func TestMemoryConversationRepo_ListMessages_Unknown_ReturnsEmpty(t *testing.T) {
	repo := NewMemoryConversationRepo()
	msgs, err := repo.ListMessages(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", msgs)
	}
}

func TestMemoryConversationRepo_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepo()
	_, _ = repo.Ensure(ctx, "u1", "s1", time.Now())
	_ = repo.Append(ctx, "s1", model.Message{ID: "m1"})

	// 他ユーザーからの削除は無視される
	if err := repo.Delete(ctx, "u2", "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if msgs, _ := repo.ListMessages(ctx, "s1"); len(msgs) != 1 {
		t.Fatal("session must survive delete by another user")
	}

	if err := repo.Delete(ctx, "u1", "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if msgs, _ := repo.ListMessages(ctx, "s1"); len(msgs) != 0 {
		t.Errorf("expected empty log after delete, got %d", len(msgs))
	}
	if convs, _ := repo.ListByUser(ctx, "u1"); len(convs) != 0 {
		t.Errorf("expected no sessions after delete, got %d", len(convs))
	}

	// 冪等
	if err := repo.Delete(ctx, "u1", "s1"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestMemoryConversationRepo_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepo()
	_, _ = repo.Ensure(ctx, "u1", "s1", time.Now())
	_, _ = repo.Ensure(ctx, "u1", "s2", time.Now())
	_, _ = repo.Ensure(ctx, "u2", "s3", time.Now())
	_ = repo.Append(ctx, "s1", model.Message{ID: "m1"})
	_ = repo.Append(ctx, "s3", model.Message{ID: "m2"})

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := ConversationStats{Users: 2, Sessions: 3, Messages: 2}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}
