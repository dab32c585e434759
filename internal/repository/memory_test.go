package repository

import (
	"context"
	"testing"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/pkg/util"
)

func TestMemoryThreadRepositoryCreateIdempotent(t *testing.T) {
	t.Parallel()
	repo := NewMemoryThreadRepository()
	ctx := context.Background()

	first := &domain.Thread{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" {
		t.Fatal("created thread has no id")
	}

	second := &domain.Thread{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"}
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same triple produced two threads: %s vs %s", first.ID, second.ID)
	}

	other := &domain.Thread{ClientID: "c1", LawyerID: "l1", CaseRef: "case-2"}
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("create other case: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("distinct case_ref must open a distinct thread")
	}
}

func TestMemoryThreadRepositoryListAndArchive(t *testing.T) {
	t.Parallel()
	repo := NewMemoryThreadRepository()
	ctx := context.Background()

	mine := &domain.Thread{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"}
	theirs := &domain.Thread{ClientID: "c2", LawyerID: "l2", CaseRef: "case-2"}
	for _, th := range []*domain.Thread{mine, theirs} {
		if err := repo.Create(ctx, th); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	listed, err := repo.ListForUser(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != mine.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	if err := repo.Archive(ctx, mine.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err := repo.GetByID(ctx, mine.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Archived {
		t.Fatal("archive not persisted")
	}

	_, err = repo.GetByID(ctx, "missing")
	if util.ToDomainError(err).Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestMemoryMessageRepositoryAppendIdempotent(t *testing.T) {
	t.Parallel()
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	msg := &domain.Message{ThreadID: "t1", SenderID: "c1", SenderRole: domain.RoleClient, Body: "hi", CorrelationID: "corr-1"}
	if err := repo.Append(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	firstID := msg.ID

	retry := &domain.Message{ThreadID: "t1", SenderID: "c1", SenderRole: domain.RoleClient, Body: "hi", CorrelationID: "corr-1"}
	if err := repo.Append(ctx, retry); err != nil {
		t.Fatalf("retry append: %v", err)
	}
	if retry.ID != firstID {
		t.Fatalf("retried append assigned a new id: %d vs %d", retry.ID, firstID)
	}

	// Same correlation id on another thread is a different message.
	elsewhere := &domain.Message{ThreadID: "t2", SenderID: "c1", SenderRole: domain.RoleClient, Body: "hi", CorrelationID: "corr-1"}
	if err := repo.Append(ctx, elsewhere); err != nil {
		t.Fatalf("append elsewhere: %v", err)
	}
	if elsewhere.ID == firstID {
		t.Fatal("idempotency must be scoped per thread")
	}
}

func TestMemoryMessageRepositoryPaging(t *testing.T) {
	t.Parallel()
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	var ids []int64
	for _, body := range []string{"one", "two", "three", "four", "five"} {
		msg := &domain.Message{ThreadID: "t1", SenderID: "c1", SenderRole: domain.RoleClient, Body: body, CorrelationID: "corr-" + body}
		if err := repo.Append(ctx, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	newest, err := repo.ListBefore(ctx, "t1", 0, 2)
	if err != nil {
		t.Fatalf("list newest: %v", err)
	}
	if len(newest) != 2 || newest[0].Body != "four" || newest[1].Body != "five" {
		t.Fatalf("newest page wrong: %+v", newest)
	}

	middle, err := repo.ListBefore(ctx, "t1", newest[0].ID, 2)
	if err != nil {
		t.Fatalf("list middle: %v", err)
	}
	if len(middle) != 2 || middle[0].Body != "two" || middle[1].Body != "three" {
		t.Fatalf("middle page wrong: %+v", middle)
	}

	tail, err := repo.ListAfter(ctx, "t1", ids[2])
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(tail) != 2 || tail[0].Body != "four" || tail[1].Body != "five" {
		t.Fatalf("gap-fill wrong: %+v", tail)
	}
}
