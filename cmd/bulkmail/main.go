// Package main is the bulkmail command-line client: it loads a recipient
// list from a spreadsheet and submits one message to all of them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/shineum/bulkmail/internal/client"
	"github.com/shineum/bulkmail/internal/config"
	"github.com/shineum/bulkmail/internal/form"
	"github.com/shineum/bulkmail/internal/logging"
	"github.com/shineum/bulkmail/internal/recipients"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one composition and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bulkmail", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	message := fs.String("message", "", "message text")
	messageFile := fs.String("message-file", "", "read the message text from a file")
	file := fs.String("file", "", "spreadsheet with one address per row in column A")
	endpoint := fs.String("endpoint", "", "dispatch service base URL (overrides CLIENT_ENDPOINT)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: bulkmail -message TEXT | -message-file PATH [-file PATH] [DROPPED...] [-endpoint URL] [-config PATH]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	logging.Setup(cfg.Logging.Level, stderr)

	if *endpoint != "" {
		cfg.Client.Endpoint = *endpoint
	}

	text, err := readMessage(*message, *messageFile)
	if err != nil {
		slog.Error("failed to read message", "error", err)
		fmt.Fprintln(stderr, err)
		return 2
	}

	f := form.New(form.Config{
		Dispatcher: client.New(client.Config{
			Endpoint: cfg.Client.Endpoint,
			Timeout:  cfg.Client.Timeout,
		}),
		Notifier:         form.NewWriterNotifier(stdout),
		GateDroppedFiles: cfg.Client.GateDroppedFiles,
	})
	f.SetMessage(text)

	var uploads []pendingUpload
	if *file != "" {
		uploads = append(uploads, pendingUpload{path: *file, origin: recipients.OriginChooser})
	}
	for _, p := range fs.Args() {
		uploads = append(uploads, pendingUpload{path: p, origin: recipients.OriginDrop})
	}

	// Files are read in argument order, so the last readable one wins.
	for _, up := range uploads {
		if err := load(ctx, f, up); err != nil {
			slog.Debug("upload not used", "file", up.path, "error", err)
		}
	}

	out, err := f.Submit(ctx)
	if err != nil {
		return 1
	}
	if out.State != form.StateSucceeded {
		return 1
	}
	return 0
}

type pendingUpload struct {
	path   string
	origin recipients.Origin
}

func load(ctx context.Context, f *form.Form, up pendingUpload) error {
	fh, err := os.Open(up.path)
	if err != nil {
		slog.Error("failed to open upload", "file", up.path, "error", err)
		return err
	}
	defer fh.Close()

	_, err = f.Load(ctx, form.Upload{
		Name:      filepath.Base(up.path),
		MediaType: mediaType(up.path),
		Origin:    up.origin,
		Body:      fh,
	})
	return err
}

// mediaType reports the declared type of a local file from its extension.
func mediaType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	switch ext {
	case ".xlsx":
		return recipients.MediaTypeXLSX
	case ".xls":
		return recipients.MediaTypeXLS
	case ".csv":
		return recipients.MediaTypeCSV
	}
	return ""
}

func readMessage(text, path string) (string, error) {
	switch {
	case text != "" && path != "":
		return "", errors.New("-message and -message-file are mutually exclusive")
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read message file: %w", err)
		}
		return string(data), nil
	default:
		return text, nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
