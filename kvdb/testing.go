package kvdb

import (
	"path/filepath"
)

// TestingT is an interface for testing compatibility.
type TestingT interface {
	Logf(format string, args ...any)
	FailNow()
	Cleanup(func())
	TempDir() string
}

// SetupTestDB creates a throwaway database in a per-test temp directory.
func SetupTestDB(t TestingT, opts ...Option) *DB {
	var path = filepath.Join(t.TempDir(), "test.db")

	opts = append(opts, WithNoSync(true))
	db, err := Open(path, opts...)
	if err != nil {
		t.Logf("failed to open test database at %s: %v", path, err)
		t.FailNow()
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
