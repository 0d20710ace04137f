package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/config"
)

// cleanEnv keeps developer settings out of command tests.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REDIS_ADDR", "OTEL_ENABLED", "CATEGORIES_FILE", "PROOF_SEED", "JWT_REQUIRED"} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "journal.db"))
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"startupops"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Help(t *testing.T) {
	code, out, _ := run("help")
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	for _, cmd := range []string{"serve", "submit", "categories", "forms", "encode", "decode"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("usage missing %q", cmd)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := run("deploy")
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut, "Unknown command: deploy") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	code, _, errOut := run("")
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut, "Unknown command") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_DefaultsToServer(t *testing.T) {
	calls := 0
	orig := startServer
	startServer = func(io.Writer, io.Writer) int {
		calls++
		return 0
	}
	defer func() { startServer = orig }()

	for _, args := range [][]string{nil, {"serve"}, {"server"}, {"--port=9"}} {
		if code, _, _ := run(args...); code != 0 {
			t.Errorf("args %v: exit = %d", args, code)
		}
	}
	if calls != 4 {
		t.Errorf("startServer called %d times, want 4", calls)
	}
}

func TestCategoriesCmd_JSON(t *testing.T) {
	cleanEnv(t)
	code, out, errOut := run("categories", "--json")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errOut)
	}
	var got struct {
		Version    string `json:"version"`
		Categories []struct {
			Name      string `json:"name"`
			Call      string `json:"call"`
			Encrypted bool   `json:"encrypted"`
		} `json:"categories"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(got.Categories) != 7 {
		t.Fatalf("categories = %d, want 7", len(got.Categories))
	}
	for _, c := range got.Categories {
		if c.Name == "startup" && c.Encrypted {
			t.Error("startup must not carry an encrypted value")
		}
		if c.Name == "revenue" && c.Call != "recordMetric" {
			t.Errorf("revenue call = %s", c.Call)
		}
	}
}

func TestFormsCmd(t *testing.T) {
	cleanEnv(t)
	code, out, _ := run("forms")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, "kpi_progress") || !strings.Contains(out, "amount*") {
		t.Errorf("unexpected output:\n%s", out)
	}

	code, out, _ = run("forms", "--json")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	var got map[string][]map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got["team"]) != 6 {
		t.Errorf("team fields = %d, want 6", len(got["team"]))
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	code, out, errOut := run("encode", "1250.5")
	if code != 0 {
		t.Fatalf("encode exit = %d, stderr = %s", code, errOut)
	}
	var enc map[string]string
	if err := json.Unmarshal([]byte(out), &enc); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !strings.HasPrefix(enc["proof"], "0x") || len(enc["proof"]) != 66 {
		t.Errorf("proof = %q", enc["proof"])
	}

	code, out, _ = run("decode", enc["ciphertext"])
	if code != 0 {
		t.Fatalf("decode exit = %d", code)
	}
	if strings.TrimSpace(out) != "1250.5" {
		t.Errorf("decoded = %q, want 1250.5", out)
	}
}

func TestEncodeCmd_Rejects(t *testing.T) {
	if code, _, _ := run("encode", "abc"); code != 2 {
		t.Errorf("non-numeric: exit = %d, want 2", code)
	}
	if code, _, _ := run("encode", "--", "-5"); code != 1 {
		t.Errorf("negative: exit = %d, want 1", code)
	}
	if code, _, _ := run("decode"); code != 2 {
		t.Errorf("missing arg: exit = %d, want 2", code)
	}
	if code, _, _ := run("decode", "x.y.z"); code != 1 {
		t.Errorf("malformed: exit = %d, want 1", code)
	}
}

func TestSubmitCmd_Succeeds(t *testing.T) {
	cleanEnv(t)
	code, out, errOut := run("submit",
		"--form", "revenue",
		"--wallet", "0x00000000000000000000000000000000000000aa",
		"--set", "startup_id=1",
		"--set", "amount=500",
		"--set", "source=Subscriptions",
		"--json",
	)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errOut)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if got["phase"] != "SUCCEEDED" {
		t.Errorf("phase = %v", got["phase"])
	}
	if got["ledger_valid"] != true {
		t.Error("ledger should verify")
	}
	// base64("500") reversed.
	if got["ciphertext"] != "wATN" {
		t.Errorf("ciphertext = %v, want wATN", got["ciphertext"])
	}
}

func TestSubmitCmd_Failures(t *testing.T) {
	cleanEnv(t)
	wallet := "0x00000000000000000000000000000000000000aa"
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no form", []string{"--wallet", wallet}, 2},
		{"no wallet", []string{"--form", "revenue"}, 2},
		{"unknown form", []string{"--form", "payroll", "--wallet", wallet}, 2},
		{"unknown field", []string{"--form", "revenue", "--wallet", wallet, "--set", "bonus=1"}, 2},
		{"bad set", []string{"--form", "revenue", "--wallet", wallet, "--set", "amount"}, 2},
		{"invalid amount", []string{"--form", "revenue", "--wallet", wallet,
			"--set", "startup_id=1", "--set", "amount=-3", "--set", "source=x"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := run(append([]string{"submit"}, tt.args...)...)
			if code != tt.want {
				t.Errorf("exit = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	cleanEnv(t)
	cfg := config.Load()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var stdout bytes.Buffer
	go func() { done <- serve(ctx, cfg, ln, &stdout) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
