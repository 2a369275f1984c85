package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "owner.keystore")
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := SaveToKeystoreLight(path, key, "hunter2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected permissions %o", perm)
	}
	loaded, err := LoadFromKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestKeystoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	first, _ := GeneratePrivateKey()
	second, _ := GeneratePrivateKey()
	if err := SaveToKeystoreLight(path, first, ""); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := SaveToKeystoreLight(path, second, ""); err != nil {
		t.Fatalf("save second: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != second.Address() {
		t.Fatalf("expected second key after overwrite")
	}
}
