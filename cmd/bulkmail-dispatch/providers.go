package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/bulkmail/internal/config"
	"github.com/shineum/bulkmail/internal/provider"
	"github.com/shineum/bulkmail/internal/provider/graph"
	"github.com/shineum/bulkmail/internal/provider/resend"
	"github.com/shineum/bulkmail/internal/provider/ses"
	"github.com/shineum/bulkmail/internal/provider/stdout"
)

// selectProvider chooses the email delivery backend. An explicit PROVIDER
// wins; otherwise the first configured backend in the order graph, ses,
// resend is used, falling back to stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSES(ctx, cfg)

	case "graph", "msgraph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		return newGraph(cfg), nil

	case "resend":
		if !cfg.ResendConfigured() {
			return nil, errors.New("Resend provider selected but RESEND_API_KEY and RESEND_SENDER are required")
		}
		return newResend(cfg)

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		switch {
		case cfg.GraphConfigured():
			return newGraph(cfg), nil
		case cfg.SESConfigured():
			return newSES(ctx, cfg)
		case cfg.ResendConfigured():
			return newResend(cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q (valid: ses, graph, resend, stdout)", cfg.Provider)
	}
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}

func newResend(cfg *config.Config) (provider.Provider, error) {
	slog.Info("using Resend provider", "sender", cfg.Resend.Sender)
	p, err := resend.New(resend.Config{APIKey: cfg.Resend.APIKey, Sender: cfg.Resend.Sender})
	if err != nil {
		return nil, fmt.Errorf("failed to create Resend provider: %w", err)
	}
	return p, nil
}
