package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/repository"
	"github.com/spec-kit/case-messaging/pkg/util"
)

func newTestService() *ThreadService {
	return NewThreadService(repository.NewMemoryThreadRepository(), zap.NewNop())
}

func TestOpenThreadValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService()
	ctx := context.Background()
	client := domain.Identity{UserID: "c1", Role: domain.RoleClient}

	tests := []struct {
		name     string
		caller   domain.Identity
		input    ThreadOpenInput
		wantCode string
	}{
		{
			name:     "missing fields",
			caller:   client,
			input:    ThreadOpenInput{ClientID: "c1"},
			wantCode: "VALIDATION_FAILED",
		},
		{
			name:     "client opening for someone else",
			caller:   client,
			input:    ThreadOpenInput{ClientID: "c2", LawyerID: "l1", CaseRef: "case-1"},
			wantCode: "FORBIDDEN",
		},
		{
			name:     "lawyer opening for someone else",
			caller:   domain.Identity{UserID: "l1", Role: domain.RoleLawyer},
			input:    ThreadOpenInput{ClientID: "c1", LawyerID: "l2", CaseRef: "case-1"},
			wantCode: "FORBIDDEN",
		},
		{
			name:     "unknown role",
			caller:   domain.Identity{UserID: "x", Role: "ADMIN"},
			input:    ThreadOpenInput{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"},
			wantCode: "UNAUTHORIZED",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.OpenThread(ctx, tc.caller, tc.input)
			if err == nil {
				t.Fatal("expected an error")
			}
			if code := util.ToDomainError(err).Code; code != tc.wantCode {
				t.Fatalf("expected %s, got %s", tc.wantCode, code)
			}
		})
	}
}

func TestOpenThreadIdempotentPerTriple(t *testing.T) {
	t.Parallel()
	svc := newTestService()
	ctx := context.Background()
	client := domain.Identity{UserID: "c1", Role: domain.RoleClient}
	lawyer := domain.Identity{UserID: "l1", Role: domain.RoleLawyer}
	input := ThreadOpenInput{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"}

	first, err := svc.OpenThread(ctx, client, input)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Either side re-opening the same triple lands on the same thread.
	second, err := svc.OpenThread(ctx, lawyer, input)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate thread for the triple: %s vs %s", second.ID, first.ID)
	}
}

func TestGetThreadRequiresParticipation(t *testing.T) {
	t.Parallel()
	svc := newTestService()
	ctx := context.Background()
	client := domain.Identity{UserID: "c1", Role: domain.RoleClient}

	thread, err := svc.OpenThread(ctx, client, ThreadOpenInput{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	stranger := domain.Identity{UserID: "c2", Role: domain.RoleClient}
	if _, err := svc.GetThread(ctx, stranger, thread.ID); util.ToDomainError(err).Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestArchiveThreadIdempotent(t *testing.T) {
	t.Parallel()
	svc := newTestService()
	ctx := context.Background()
	client := domain.Identity{UserID: "c1", Role: domain.RoleClient}

	thread, err := svc.OpenThread(ctx, client, ThreadOpenInput{ClientID: "c1", LawyerID: "l1", CaseRef: "case-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	archived, err := svc.ArchiveThread(ctx, client, thread.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.Archived {
		t.Fatal("thread not archived")
	}

	again, err := svc.ArchiveThread(ctx, client, thread.ID)
	if err != nil {
		t.Fatalf("re-archive: %v", err)
	}
	if !again.Archived {
		t.Fatal("second archive changed state")
	}
}
