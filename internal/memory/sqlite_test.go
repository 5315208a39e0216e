package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentcore/runtime/internal/ports"
)

func openTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	f, err := OpenFileStore(dbPath)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFileStore_SetGet(t *testing.T) {
	f := openTestFileStore(t)
	ctx := context.Background()

	want := []ports.Message{msg(ports.RoleUser, "hi"), msg(ports.RoleAssistant, "hello")}
	if err := f.Set(ctx, "conv1", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := f.Get(ctx, "conv1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0].ID != "hi" || got[1].ID != "hello" {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestFileStore_Append(t *testing.T) {
	f := openTestFileStore(t)
	ctx := context.Background()

	for _, m := range []string{"one", "two", "three"} {
		if err := f.Append(ctx, "conv1", msg(ports.RoleUser, m)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := f.Get(ctx, "conv1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got[i].ID != want {
			t.Errorf("message %d: got %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestFileStore_SetReplacesHistory(t *testing.T) {
	f := openTestFileStore(t)
	ctx := context.Background()

	f.Set(ctx, "conv1", []ports.Message{msg(ports.RoleUser, "a"), msg(ports.RoleUser, "b")})
	// A shorter replacement log (as produced by auto-summary) must fully
	// replace, not merge with, the prior entries.
	f.Set(ctx, "conv1", []ports.Message{msg(ports.RoleSystem, "summary")})

	got, err := f.Get(ctx, "conv1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].ID != "summary" {
		t.Fatalf("expected history replaced with single summary message, got %+v", got)
	}
}

func TestFileStore_DeleteKeysClear(t *testing.T) {
	f := openTestFileStore(t)
	ctx := context.Background()

	f.Set(ctx, "a", []ports.Message{msg(ports.RoleUser, "x")})
	f.Set(ctx, "b", []ports.Message{msg(ports.RoleUser, "y")})

	keys, err := f.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	if err := f.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	keys, _ = f.Keys(ctx)
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("unexpected keys after delete: %v", keys)
	}

	if err := f.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	keys, _ = f.Keys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected empty store after Clear, got %v", keys)
	}
}

func TestFileStore_SnapshotRoundTrip(t *testing.T) {
	f := openTestFileStore(t)
	ctx := context.Background()

	f.Set(ctx, "a", []ports.Message{msg(ports.RoleUser, "x")})
	f.Set(ctx, "b", []ports.Message{msg(ports.RoleUser, "y"), msg(ports.RoleAssistant, "z")})

	snap, err := f.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if len(snap.Conversations) != 2 {
		t.Fatalf("got %d conversations in snapshot, want 2", len(snap.Conversations))
	}

	restored := openTestFileStore(t)
	if err := restored.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	got, err := restored.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages for key b, want 2", len(got))
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errString("SQLITE_BUSY: database is locked"), true},
		{errString("database is locked"), true},
		{errString("no such table"), false},
	}
	for _, tt := range tests {
		if got := isSQLiteBusy(tt.err); got != tt.want {
			t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
