package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"directory_users", "directory_groups", "group_members", "member_groups",
		"conversations", "conversation_roles", "activity_log", "sync_backlog"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	hookRan := false
	err := s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CreateUser(ctx, testUser("u1")); err != nil {
			return err
		}
		tx.OnCommit(func(context.Context) { hookRan = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want %v", err, boom)
	}
	if hookRan {
		t.Error("commit hook ran after rollback")
	}
	if _, err := s.User(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("User() after rollback error = %v, want ErrNotFound", err)
	}
}

func TestInTx_RunsHooksInOrderAfterCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var order []string
	err := s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		tx.OnCommit(func(ctx context.Context) {
			// Committed data must be visible from the hook.
			if _, err := s.User(ctx, "u1"); err != nil {
				t.Errorf("hook cannot see committed user: %v", err)
			}
			order = append(order, "first")
		})
		tx.OnCommit(func(context.Context) { order = append(order, "second") })
		return tx.CreateUser(ctx, testUser("u1"))
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hook order = %v", order)
	}
}

func TestInTx_ContextCarriesTx(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok := TxFrom(ctx); ok {
		t.Fatal("TxFrom() found a transaction on a bare context")
	}

	err := s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CreateUser(ctx, testUser("u1")); err != nil {
			return err
		}
		carried, ok := TxFrom(ctx)
		if !ok || carried != tx {
			t.Fatalf("TxFrom() = %p, %v; want %p", carried, ok, tx)
		}
		// The uncommitted user is visible through the carried transaction.
		if _, err := carried.User(ctx, "u1"); err != nil {
			t.Errorf("carried tx cannot see in-flight user: %v", err)
		}
		carried.OnCommit(func(ctx context.Context) {
			if _, ok := TxFrom(ctx); ok {
				t.Error("commit hook context still carries the transaction")
			}
		})
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}
}
