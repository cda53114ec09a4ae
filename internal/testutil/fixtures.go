package testutil

import (
	"path"
	"runtime"
	"testing"

	"github.com/spf13/afero"
)

// testdataDir returns the testdata directory at the module root.
func testdataDir(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("error loading caller")
	}
	return path.Join(path.Dir(filename), "../../", "testdata")
}

// FixtureFs returns a read-only filesystem rooted at the testdata directory.
func FixtureFs(t *testing.T) afero.Fs {
	t.Helper()
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), testdataDir(t)))
}

// Fixture loads a file from the testdata directory.
func Fixture(t *testing.T, relPath string) []byte {
	t.Helper()

	blob, err := afero.ReadFile(FixtureFs(t), relPath)
	if err != nil {
		t.Fatalf("error loading fixture %s: %v", relPath, err)
	}
	return blob
}
