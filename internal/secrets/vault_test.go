package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Strob0t/ChangeGuard/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"KEY_A": "val_a", "KEY_B": "val_b"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	if got := v.Get("KEY_A"); got != "val_a" {
		t.Fatalf("expected 'val_a', got %q", got)
	}
	if got := v.Get("KEY_B"); got != "val_b" {
		t.Fatalf("expected 'val_b', got %q", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	callCount := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		callCount++
		if callCount == 1 {
			return map[string]string{secrets.WebhookSecret: "original"}, nil
		}
		return nil, errors.New("secret file unreadable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get(secrets.WebhookSecret); got != "original" {
		t.Fatalf("expected 'original' after failed reload, got %q", got)
	}
}

func TestVault_LookupFollowsReload(t *testing.T) {
	current := map[string]string{}
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return current, nil
	})
	lookup := v.Lookup(secrets.WebhookSecret, "from-config")

	if got := lookup(); got != "from-config" {
		t.Fatalf("empty vault: got %q, want fallback", got)
	}
	current = map[string]string{secrets.WebhookSecret: "rotated"}
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := lookup(); got != "rotated" {
		t.Errorf("after reload: got %q", got)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"K": "V"}, nil
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_Redacted(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"LONG": "whsec-abcdef", "SHORT": "ab"}, nil
	})

	tests := []struct {
		key  string
		want string
	}{
		{"LONG", "wh****"},
		{"SHORT", "****"},
		{"MISSING", ""},
	}
	for _, tt := range tests {
		if got := v.Redacted(tt.key); got != tt.want {
			t.Errorf("Redacted(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("CG_TEST_SECRET", "mysecret")
	vals, err := secrets.EnvLoader("CG_TEST_SECRET", "CG_MISSING_SECRET")()
	if err != nil {
		t.Fatalf("EnvLoader failed: %v", err)
	}
	if vals["CG_TEST_SECRET"] != "mysecret" {
		t.Errorf("expected 'mysecret', got %q", vals["CG_TEST_SECRET"])
	}
	if _, ok := vals["CG_MISSING_SECRET"]; ok {
		t.Error("missing env var should be omitted")
	}
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(secrets.WebhookSecret+"_FILE", path)

	vals, err := secrets.FileLoader(secrets.WebhookSecret, "CG_UNSET")()
	if err != nil {
		t.Fatalf("FileLoader failed: %v", err)
	}
	if vals[secrets.WebhookSecret] != "from-file" {
		t.Errorf("got %q", vals[secrets.WebhookSecret])
	}

	t.Setenv(secrets.WebhookSecret+"_FILE", filepath.Join(t.TempDir(), "absent"))
	if _, err := secrets.FileLoader(secrets.WebhookSecret)(); err == nil {
		t.Error("expected error for unreadable secret file")
	}
}

func TestChain_LaterOverrides(t *testing.T) {
	t.Setenv(secrets.WebhookSecret, "from-env")
	path := filepath.Join(t.TempDir(), "webhook")
	if err := os.WriteFile(path, []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(secrets.WebhookSecret+"_FILE", path)

	vals, err := secrets.Chain(secrets.EnvLoader(secrets.WebhookSecret), secrets.FileLoader(secrets.WebhookSecret))()
	if err != nil {
		t.Fatal(err)
	}
	if vals[secrets.WebhookSecret] != "from-file" {
		t.Errorf("got %q, want the file value", vals[secrets.WebhookSecret])
	}
}
