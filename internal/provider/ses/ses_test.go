package ses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/bulkmail/internal/email"
	"github.com/shineum/bulkmail/internal/provider"
)

// mockSESClient implements API for testing.
type mockSESClient struct {
	mu        sync.Mutex
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	bulkFn    func(params *sesv2.SendBulkEmailInput) (*sesv2.SendBulkEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
	bulkCalls []*sesv2.SendBulkEmailInput
}

func (m *mockSESClient) SendBulkEmail(ctx context.Context, params *sesv2.SendBulkEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendBulkEmailOutput, error) {
	m.mu.Lock()
	m.bulkCalls = append(m.bulkCalls, params)
	m.mu.Unlock()
	if m.bulkFn != nil {
		return m.bulkFn(params)
	}
	return acceptAll(params), nil
}

func acceptAll(params *sesv2.SendBulkEmailInput) *sesv2.SendBulkEmailOutput {
	out := &sesv2.SendBulkEmailOutput{}
	for range params.BulkEmailEntries {
		out.BulkEmailEntryResults = append(out.BulkEmailEntryResults, types.BulkEmailEntryResult{
			Status:    types.BulkEmailStatusSuccess,
			MessageId: aws.String("bulk-id"),
		})
	}
	return out
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.mu.Lock()
	m.callCount++
	m.lastInput = params
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func fastProvider(client API) *SESProvider {
	p := NewWithClient("promo@example.com", client)
	p.retryDelay = time.Millisecond
	return p
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := fastProvider(mock)

	msg := &email.Email{
		To:       []string{"alice@example.com"},
		Subject:  "Spring Sale",
		TextBody: "Everything is 20% off.",
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "promo@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "promo@example.com")
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "alice@example.com" {
		t.Errorf("ToAddresses: got %v", got)
	}
	if got := *input.Content.Simple.Subject.Data; got != "Spring Sale" {
		t.Errorf("Subject: got %q, want %q", got, "Spring Sale")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Everything is 20% off." {
		t.Errorf("TextBody: got %q", got)
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestBuildSimpleInput_HTMLAndFromFallback(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		From:     "fallback@example.com",
		To:       []string{"to@example.com"},
		Subject:  "Test",
		TextBody: "text",
		HtmlBody: "<p>html</p>",
	}

	input := buildSimpleInput((&SESProvider{}).from(msg.From), msg)

	if got := *input.FromEmailAddress; got != "fallback@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "fallback@example.com")
	}
	if input.Content.Simple.Body.Html == nil || input.Content.Simple.Body.Text == nil {
		t.Fatal("expected both HTML and text bodies")
	}
	if got := *input.Content.Simple.Body.Html.Charset; got != "UTF-8" {
		t.Errorf("HTML charset: got %q, want %q", got, "UTF-8")
	}
}

func TestSend_RetryOnError(t *testing.T) {
	t.Parallel()

	calls := 0
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("throttled")
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	p := fastProvider(mock)

	if err := p.Send(context.Background(), &email.Email{To: []string{"a@x.com"}, TextBody: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount != 3 {
		t.Errorf("call count: got %d, want 3", mock.callCount)
	}
}

func TestSend_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	cause := errors.New("MessageRejected")
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, cause
		},
	}
	p := fastProvider(mock)

	err := p.Send(context.Background(), &email.Email{To: []string{"a@x.com"}, TextBody: "hi"})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if mock.callCount != 4 {
		t.Errorf("call count: got %d, want 4", mock.callCount)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("error")
		},
	}
	p := NewWithClient("sender@example.com", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, &email.Email{To: []string{"a@x.com"}, TextBody: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(baseRetryDelay, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()
	var _ provider.Provider = (*SESProvider)(nil)
	var _ provider.BulkSender = (*SESProvider)(nil)
}

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return out
}

func TestSendBulk_ChunksAndInlineTemplate(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := fastProvider(mock)

	to := addresses(120)
	errs := p.SendBulk(context.Background(), &email.Batch{To: to, Subject: "BulkMail", TextBody: "Spring sale"})

	if len(errs) != len(to) {
		t.Fatalf("errors: got %d entries, want %d", len(errs), len(to))
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("recipient %d: unexpected error %v", i, err)
		}
	}

	if len(mock.bulkCalls) != 3 {
		t.Fatalf("SendBulkEmail calls: got %d, want 3", len(mock.bulkCalls))
	}
	sizes := []int{50, 50, 20}
	for i, in := range mock.bulkCalls {
		if len(in.BulkEmailEntries) != sizes[i] {
			t.Errorf("call %d entries: got %d, want %d", i, len(in.BulkEmailEntries), sizes[i])
		}
	}

	first := mock.bulkCalls[0]
	if got := *first.FromEmailAddress; got != "promo@example.com" {
		t.Errorf("FromEmailAddress: got %q", got)
	}
	if got := first.BulkEmailEntries[1].Destination.ToAddresses; len(got) != 1 || got[0] != "user1@example.com" {
		t.Errorf("entry destination: got %v", got)
	}
	tc := first.DefaultContent.Template.TemplateContent
	if *tc.Subject != "BulkMail" || *tc.Text != "Spring sale" || tc.Html != nil {
		t.Errorf("template content: got %+v", tc)
	}
	if mock.callCount != 0 {
		t.Errorf("SendEmail calls: got %d, want 0", mock.callCount)
	}
}

func TestSendBulk_PerEntryFailures(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		bulkFn: func(params *sesv2.SendBulkEmailInput) (*sesv2.SendBulkEmailOutput, error) {
			out := acceptAll(params)
			out.BulkEmailEntryResults[1] = types.BulkEmailEntryResult{
				Status: types.BulkEmailStatusMessageRejected,
				Error:  aws.String("Address blacklisted."),
			}
			// The last entry has no result.
			out.BulkEmailEntryResults = out.BulkEmailEntryResults[:2]
			return out, nil
		},
	}
	p := fastProvider(mock)

	errs := p.SendBulk(context.Background(), &email.Batch{To: addresses(3), TextBody: "hi"})

	if errs[0] != nil {
		t.Errorf("recipient 0: unexpected error %v", errs[0])
	}
	if errs[1] == nil || !strings.Contains(errs[1].Error(), "Address blacklisted.") {
		t.Errorf("recipient 1: got %v, want rejection", errs[1])
	}
	if errs[2] == nil {
		t.Error("recipient 2: missing result should be an error")
	}
}

func TestSendBulk_CallFailureMarksChunk(t *testing.T) {
	t.Parallel()

	cause := errors.New("ServiceUnavailable")
	mock := &mockSESClient{
		bulkFn: func(params *sesv2.SendBulkEmailInput) (*sesv2.SendBulkEmailOutput, error) {
			return nil, cause
		},
	}
	p := fastProvider(mock)

	errs := p.SendBulk(context.Background(), &email.Batch{To: addresses(2), TextBody: "hi"})

	for i, err := range errs {
		if !errors.Is(err, cause) {
			t.Errorf("recipient %d: got %v, want wrapped cause", i, err)
		}
	}
	if len(mock.bulkCalls) != maxRetries+1 {
		t.Errorf("SendBulkEmail calls: got %d, want %d", len(mock.bulkCalls), maxRetries+1)
	}
}

func TestSendBulk_TemplateSyntaxFallsBackToSendEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := fastProvider(mock)

	errs := p.SendBulk(context.Background(), &email.Batch{To: addresses(2), TextBody: "Use code {{SPRING}}"})

	for i, err := range errs {
		if err != nil {
			t.Errorf("recipient %d: unexpected error %v", i, err)
		}
	}
	if len(mock.bulkCalls) != 0 {
		t.Errorf("SendBulkEmail calls: got %d, want 0", len(mock.bulkCalls))
	}
	if mock.callCount != 2 {
		t.Errorf("SendEmail calls: got %d, want 2", mock.callCount)
	}
	if got := *mock.lastInput.Content.Simple.Body.Text.Data; got != "Use code {{SPRING}}" {
		t.Errorf("body: got %q", got)
	}
}
