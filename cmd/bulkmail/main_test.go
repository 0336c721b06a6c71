package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/shineum/bulkmail/internal/dispatch"
	"github.com/shineum/bulkmail/internal/provider/stdout"
)

func writeWorkbook(t *testing.T, name string, column ...string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for i, v := range column {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

// startDispatch serves the real dispatch handler and returns its URL and
// the deliveries written by the stdout provider.
func startDispatch(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()

	var delivered bytes.Buffer
	svc := dispatch.New(dispatch.Config{Provider: stdout.NewWithWriter(&delivered), Subject: "BulkMail"})
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv.URL, &delivered
}

// run installs a default logger, so these tests do not run in parallel.
func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("CLIENT_ENDPOINT", "")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	code := run(context.Background(), args, &out, io.Discard)
	return code, out.String()
}

func TestRun_SendsToValidAddresses(t *testing.T) {
	url, delivered := startDispatch(t)
	book := writeWorkbook(t, "list.xlsx", "Email", "a@x.com", "", "b@y.com")

	code, out := runCLI(t, "-endpoint", url, "-message", "Spring sale", "-file", book)

	if code != 0 {
		t.Errorf("exit code: got %d, want 0\n%s", code, out)
	}
	if !strings.Contains(out, "[info] Loaded 2 email addresses from list.xlsx.") {
		t.Errorf("missing load notice:\n%s", out)
	}
	if !strings.Contains(out, "[success] Sent 2 emails") {
		t.Errorf("missing success notice:\n%s", out)
	}
	if got := strings.Count(delivered.String(), "Subject: BulkMail"); got != 2 {
		t.Errorf("deliveries: got %d, want 2", got)
	}
}

func TestRun_LastUploadWins(t *testing.T) {
	url, delivered := startDispatch(t)
	first := writeWorkbook(t, "first.xlsx", "a@x.com")
	second := writeWorkbook(t, "second.xlsx", "c@z.com")

	code, out := runCLI(t, "-endpoint", url, "-message", "hi", "-file", first, second)

	if code != 0 {
		t.Errorf("exit code: got %d, want 0\n%s", code, out)
	}
	if strings.Contains(delivered.String(), "a@x.com") || !strings.Contains(delivered.String(), "c@z.com") {
		t.Errorf("only the last list should be used, delivered:\n%s", delivered.String())
	}
}

func TestRun_Preconditions(t *testing.T) {
	url, delivered := startDispatch(t)
	book := writeWorkbook(t, "list.xlsx", "a@x.com")
	empty := writeWorkbook(t, "empty.xlsx", "Name", "n/a")

	tests := []struct {
		name       string
		args       []string
		wantNotice string
	}{
		{name: "blank message", args: []string{"-message", "   ", "-file", book}, wantNotice: "[warning] Please enter a message"},
		{name: "no file", args: []string{"-message", "hi"}, wantNotice: "[warning] Please upload a file"},
		{name: "no valid addresses", args: []string{"-message", "hi", "-file", empty}, wantNotice: "[warning] No valid email addresses found in the file."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := runCLI(t, append([]string{"-endpoint", url}, tt.args...)...)
			if code != 1 {
				t.Errorf("exit code: got %d, want 1", code)
			}
			if !strings.Contains(out, tt.wantNotice) {
				t.Errorf("notice %q missing:\n%s", tt.wantNotice, out)
			}
		})
	}

	if delivered.Len() != 0 {
		t.Errorf("nothing should be delivered, got:\n%s", delivered.String())
	}
}

func TestRun_RejectsUnsupportedFile(t *testing.T) {
	url, _ := startDispatch(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("a@x.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, out := runCLI(t, "-endpoint", url, "-message", "hi", "-file", path)

	if code != 1 {
		t.Errorf("exit code: got %d, want 1", code)
	}
	if !strings.Contains(out, "[error] Please upload a valid Excel file") {
		t.Errorf("missing rejection notice:\n%s", out)
	}
}

func TestRun_ServiceUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	book := writeWorkbook(t, "list.xlsx", "a@x.com")

	code, out := runCLI(t, "-endpoint", url, "-message", "hi", "-file", book)

	if code != 1 {
		t.Errorf("exit code: got %d, want 1", code)
	}
	if !strings.Contains(out, "[error] Could not reach the mail server") {
		t.Errorf("missing connectivity notice:\n%s", out)
	}
}

func TestRun_MessageFile(t *testing.T) {
	url, delivered := startDispatch(t)
	book := writeWorkbook(t, "list.xlsx", "a@x.com")
	msg := filepath.Join(t.TempDir(), "msg.txt")
	if err := os.WriteFile(msg, []byte("From a file"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _ := runCLI(t, "-endpoint", url, "-message-file", msg, "-file", book)
	if code != 0 {
		t.Errorf("exit code: got %d, want 0", code)
	}
	if !strings.Contains(delivered.String(), "From a file") {
		t.Errorf("message body not delivered:\n%s", delivered.String())
	}

	code, _ = runCLI(t, "-endpoint", url, "-message", "x", "-message-file", msg)
	if code != 2 {
		t.Errorf("exit code for conflicting flags: got %d, want 2", code)
	}
}

func TestMediaType(t *testing.T) {
	t.Parallel()

	if got := mediaType("list.XLSX"); got == "" {
		t.Error("xlsx should have a media type")
	}
	if got := mediaType("list.unknownext"); got != "" {
		t.Errorf("unknown extension: got %q, want empty", got)
	}
}
