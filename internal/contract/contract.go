//go:build pact

// Package contract holds the names, provider states and file locations shared
// by the consumer and provider pact tests.
package contract

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const (
	ProviderName = "spa-api"
	ConsumerName = "spaform"

	StateSpaExists  = "spa with id 1 exists"
	StateSpaMissing = "no spa with id 404"
)

const (
	ExistingSpaID int64 = 1
	MissingSpaID  int64 = 404
)

// Collection is the resource collection both sides mount.
const Collection = "spas"

// PactDir returns the workspace-level directory for generated pact files.
func PactDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "pacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact dir: %v", err)
	}
	return dir
}

// PactFile returns the pact file the consumer writes and the provider verifies.
func PactFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

func LogDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "bin", "pact-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact log dir: %v", err)
	}
	return dir
}

// projectRoot walks up from this file to the module root.
func projectRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller for pact paths")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
