package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/memberprop/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(id string) model.User {
	return model.User{ID: id, Name: id, Enabled: true}
}

func testGroup(id string) model.Group {
	return model.Group{ID: id, GroupID: id, Name: id, Type: model.GroupTypePublicOpen, Enabled: true}
}
