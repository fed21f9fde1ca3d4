package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvFallback(t *testing.T) {
	if got := GetEnv("ISO_TEST_UNSET", "dflt"); got != "dflt" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("ISO_TEST_SET", "val")
	if got := GetEnv("ISO_TEST_SET", "dflt"); got != "val" {
		t.Fatalf("got %q", got)
	}
}

func TestGetEnvFileIndirection(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret")
	if err := os.WriteFile(secret, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ISO_TEST_FILE_FILE", secret)
	if got := GetEnv("ISO_TEST_FILE", ""); got != "s3cret" {
		t.Fatalf("got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("ISO_TEST_INT", "42")
	if got := GetEnvInt("ISO_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	if got := GetEnvInt("ISO_TEST_INT_UNSET", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("ISO_TEST_BOOL", "true")
	if !GetEnvBool("ISO_TEST_BOOL", false) {
		t.Fatal("got false")
	}
	if GetEnvBool("ISO_TEST_BOOL_UNSET", false) {
		t.Fatal("got true")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ISO_TEST_DUR", "1m30s")
	if got := GetEnvDuration("ISO_TEST_DUR", 0); got != 90*time.Second {
		t.Fatalf("got %s", got)
	}
	if got := GetEnvDuration("ISO_TEST_DUR_UNSET", time.Second); got != time.Second {
		t.Fatalf("got %s", got)
	}
}
