package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"tipjar/core/runtime"
	"tipjar/core/state"
	"tipjar/native/faucet"
	"tipjar/native/system"
	"tipjar/native/tipjar"
	"tipjar/rpc"
	"tipjar/storage"
)

func startNode(t *testing.T) string {
	t.Helper()
	db := storage.NewMemDB()
	rent := system.DefaultRent()
	exec, err := runtime.NewExecutor(state.NewManager(db), runtime.Config{Rent: rent},
		system.NewProgram(), tipjar.NewProgram(tipjar.DefaultProgramID, rent))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	drops := faucet.New(faucet.Config{Enabled: true, RequestsPerMinute: 6000, Burst: 100}, exec, nil, nil)
	srv, err := rpc.NewServer(rpc.ServerConfig{
		ProgramID: tipjar.DefaultProgramID,
		Executor:  exec,
		Faucet:    drops,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, endpoint string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--rpc", endpoint}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, endpoint string, args ...string) string {
	t.Helper()
	code, out, errOut := runCLI(t, endpoint, args...)
	if code != 0 {
		t.Fatalf("%v exited %d: %s", args, code, errOut)
	}
	return out
}

func TestCLITipJarFlow(t *testing.T) {
	t.Setenv(keyPassEnv, "cli-test")
	endpoint := startNode(t)
	dir := t.TempDir()
	ownerKey := filepath.Join(dir, "owner.keystore")
	tipperKey := filepath.Join(dir, "tipper.keystore")

	mustRun(t, endpoint, "generate-key", "--out", ownerKey, "--light")
	mustRun(t, endpoint, "generate-key", "--out", tipperKey, "--light")
	owner := strings.TrimSpace(mustRun(t, endpoint, "address", "--key", ownerKey))

	mustRun(t, endpoint, "airdrop", "--key", ownerKey, "--lamports", "5000000")
	mustRun(t, endpoint, "airdrop", "--key", tipperKey, "--lamports", "5000000")
	mustRun(t, endpoint, "init", "--key", ownerKey)
	mustRun(t, endpoint, "tip", "--key", tipperKey, "--owner", owner, "--lamports", "1000")
	mustRun(t, endpoint, "withdraw", "--key", ownerKey, "--lamports", "400")

	var jar rpc.JarResult
	if err := json.Unmarshal([]byte(mustRun(t, endpoint, "jar", "--owner", owner)), &jar); err != nil {
		t.Fatalf("decode jar: %v", err)
	}
	if jar.TotalTips != 1000 || jar.Withdrawable != 600 {
		t.Fatalf("unexpected jar: %+v", jar)
	}

	code, _, errOut := runCLI(t, endpoint, "withdraw", "--key", ownerKey, "--lamports", "10000000")
	if code == 0 || !strings.Contains(errOut, "insufficient funds") {
		t.Fatalf("expected failed withdraw, got %d: %s", code, errOut)
	}
}

func TestCLIUsageErrors(t *testing.T) {
	endpoint := startNode(t)
	if code, _, _ := runCLI(t, endpoint); code == 0 {
		t.Fatalf("expected usage error without command")
	}
	if code, _, _ := runCLI(t, endpoint, "bogus"); code == 0 {
		t.Fatalf("expected error for unknown command")
	}
	if code, _, errOut := runCLI(t, endpoint, "tip", "--lamports", "1"); code == 0 || !strings.Contains(errOut, "--owner") {
		t.Fatalf("expected --owner error, got %q", errOut)
	}
	if code, _, errOut := runCLI(t, endpoint, "init", "--key", filepath.Join(t.TempDir(), "missing")); code == 0 || !strings.Contains(errOut, "generate-key") {
		t.Fatalf("expected missing keystore hint, got %q", errOut)
	}
	if _, err := (&globals{}).applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected error for dangling --rpc")
	}
}

func TestCLIInfoAndProgramOverride(t *testing.T) {
	endpoint := startNode(t)
	out := mustRun(t, endpoint, "info")
	if !strings.Contains(out, tipjar.DefaultProgramID.String()) {
		t.Fatalf("info missing program id: %s", out)
	}
	g := &globals{}
	rest, err := g.applyGlobalFlags([]string{"--program=abc", "jar", "--rpc", "http://x"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if g.programID != "abc" || g.rpcEndpoint != "http://x" || len(rest) != 1 || rest[0] != "jar" {
		t.Fatalf("unexpected globals %+v rest=%v", g, rest)
	}
}
