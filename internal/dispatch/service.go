// Package dispatch implements the /sendemail endpoint: it fans one message
// out to every listed recipient through a delivery provider.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/bulkmail/internal/email"
	"github.com/shineum/bulkmail/internal/provider"
	"github.com/shineum/bulkmail/internal/sendemail"
)

// maxRequestSize caps the accepted request body.
const maxRequestSize = 4 << 20

const defaultConcurrency = 8

// Config holds the configuration of a Service.
type Config struct {
	Provider provider.Provider

	// Subject is used for every outgoing message.
	Subject string

	// Sender is the From address. Providers may substitute their own.
	Sender string

	// Concurrency bounds parallel provider calls per request.
	Concurrency int
}

// Service delivers /sendemail requests.
type Service struct {
	provider    provider.Provider
	subject     string
	sender      string
	concurrency int
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Service{
		provider:    cfg.Provider,
		subject:     cfg.Subject,
		sender:      cfg.Sender,
		concurrency: cfg.Concurrency,
	}
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post(sendemail.Path, s.handleSendEmail)

	return r
}

func (s *Service) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendemail.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		slog.Warn("malformed sendemail request",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeReply(w, http.StatusBadRequest, sendemail.Failure("Malformed request body"))
		return
	}

	writeReply(w, http.StatusOK, s.Dispatch(r.Context(), req))
}

// Dispatch validates req and sends the message to each recipient. Validation
// failures are answered before any delivery is attempted.
func (s *Service) Dispatch(ctx context.Context, req sendemail.Request) sendemail.Reply {
	if strings.TrimSpace(req.Message) == "" {
		return sendemail.Failure("Message is empty")
	}
	if len(req.Emails) == 0 {
		return sendemail.Failure("No recipients given")
	}

	addrs := make([]string, 0, len(req.Emails))
	for _, raw := range req.Emails {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return sendemail.Failure("Invalid recipient " + raw)
		}
		addrs = append(addrs, addr.Address)
	}

	batch := uuid.NewString()
	log := slog.With("batch_id", batch, "provider", s.provider.Name())
	log.Info("dispatching batch", "recipients", len(addrs))

	var k int
	if bulk, ok := s.provider.(provider.BulkSender); ok {
		k = s.sendBulk(ctx, log, bulk, addrs, req.Message)
	} else {
		k = s.sendEach(ctx, log, batch, addrs, req.Message)
	}

	n := len(addrs)
	if k > 0 {
		log.Warn("batch finished with failures", "failed", k, "recipients", n)
		return sendemail.Failure(fmt.Sprintf("Failed to send to %d of %d recipients", k, n))
	}

	log.Info("batch delivered", "recipients", n)
	return sendemail.Success(fmt.Sprintf("Sent %d emails", n))
}

// sendEach fans out one provider call per address and returns the number of
// failed deliveries.
func (s *Service) sendEach(ctx context.Context, log *slog.Logger, batch string, addrs []string, body string) int {
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, addr := range addrs {
		msg := &email.Email{
			From:      s.sender,
			To:        []string{addr},
			Subject:   s.subject,
			TextBody:  body,
			MessageID: fmt.Sprintf("<%s.%d@bulkmail>", batch, i),
		}
		g.Go(func() error {
			if err := s.provider.Send(gctx, msg); err != nil {
				failed.Add(1)
				log.Error("delivery failed", "to", addr, "error", err)
				return nil
			}
			log.Debug("delivered", "to", addr, "message_id", msg.MessageID)
			return nil
		})
	}
	g.Wait()
	return int(failed.Load())
}

// sendBulk hands the whole batch to a provider with a native batch API.
func (s *Service) sendBulk(ctx context.Context, log *slog.Logger, bulk provider.BulkSender, addrs []string, body string) int {
	errs := bulk.SendBulk(ctx, &email.Batch{
		From:     s.sender,
		To:       addrs,
		Subject:  s.subject,
		TextBody: body,
	})
	failed := 0
	for i, addr := range addrs {
		if i < len(errs) && errs[i] == nil {
			continue
		}
		failed++
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		log.Error("delivery failed", "to", addr, "error", err)
	}
	return failed
}

func writeReply(w http.ResponseWriter, status int, reply sendemail.Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.Error("failed to write reply", "error", err)
	}
}
