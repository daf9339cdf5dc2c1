package stattransport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writeFakeBinary creates an executable shell script at a temp path that
// echoes the given stdout and exits 0, standing in for the data-plane binary.
func writeFakeBinary(t *testing.T, stdout string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script requires a POSIX shell")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "fake-xray")
	script := "#!/bin/sh\ncat <<'EOF'\n" + stdout + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestCLITransport_QueryStat_JSONStdout(t *testing.T) {
	bin := writeFakeBinary(t, `{"stat":{"name":"x","value":"42"}}`)
	tr := NewCLITransport(bin, "127.0.0.1:10085")

	res, err := tr.QueryStat(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Found || res.Value != 42 {
		t.Fatalf("res = %+v", res)
	}
}

func TestCLITransport_QueryStat_TextFallback(t *testing.T) {
	bin := writeFakeBinary(t, `warning: legacy output value: 77 ok`)
	tr := NewCLITransport(bin, "127.0.0.1:10085")

	res, err := tr.QueryStat(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Found || res.Value != 77 {
		t.Fatalf("res = %+v", res)
	}
}

func TestCLITransport_QueryStat_EmptyStdout(t *testing.T) {
	bin := writeFakeBinary(t, "")
	tr := NewCLITransport(bin, "127.0.0.1:10085")

	res, err := tr.QueryStat(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Found {
		t.Fatalf("res = %+v, want not found for empty stdout", res)
	}
}
