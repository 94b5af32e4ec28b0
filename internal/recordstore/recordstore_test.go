package recordstore

import (
	"context"
	"testing"

	"github.com/amityvox/registry-federation/internal/federation"
)

func TestStore_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := &federation.Record{Path: "/foo", Visibility: federation.VisibilityPublic}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "/foo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Visibility != federation.VisibilityPublic {
		t.Errorf("expected public visibility, got %q", got.Visibility)
	}

	updated := &federation.Record{Path: "/foo", Visibility: federation.VisibilityInternal}
	if err := s.Update(ctx, "/foo", updated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Get(ctx, "/foo")
	if got.Visibility != federation.VisibilityInternal {
		t.Errorf("expected internal visibility after update, got %q", got.Visibility)
	}

	if err := s.Delete(ctx, "/foo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "/foo"); err == nil {
		t.Fatal("expected error getting deleted record")
	}
}

func TestStore_SetState(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := &federation.Record{Path: "/foo"}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	enabled, err := s.IsEnabled(ctx, "/foo")
	if err != nil || !enabled {
		t.Fatalf("expected newly created record enabled, got %v err=%v", enabled, err)
	}

	if err := s.SetState(ctx, "/foo", false); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	enabled, err = s.IsEnabled(ctx, "/foo")
	if err != nil || enabled {
		t.Fatalf("expected record disabled after SetState, got %v err=%v", enabled, err)
	}
}

func TestStore_UnknownPath(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "/missing"); err == nil {
		t.Fatal("expected RecordNotFoundError for missing path")
	}
	if err := s.Update(ctx, "/missing", &federation.Record{}); err == nil {
		t.Fatal("expected RecordNotFoundError updating missing path")
	}
	if err := s.Delete(ctx, "/missing"); err == nil {
		t.Fatal("expected RecordNotFoundError deleting missing path")
	}
}

func TestAgentStore_IsAgentEnabled(t *testing.T) {
	ctx := context.Background()
	s := NewAgentStore()

	if err := s.Create(ctx, &federation.Record{Path: "/agent-a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	enabled, err := s.IsAgentEnabled(ctx, "/agent-a")
	if err != nil || !enabled {
		t.Fatalf("expected agent enabled, got %v err=%v", enabled, err)
	}
}

func TestScanStore_ListScans(t *testing.T) {
	s := NewScanStore()
	s.PutScan("/server-a", federation.Record{Path: "/server-a/scan"})
	s.PutScan("/server-b", federation.Record{Path: "/server-b/scan"})

	scans, err := s.ListScans(context.Background())
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(scans))
	}
}
