// Package email defines the outbound message model handed to delivery providers.
package email

// Email is a single outbound message addressed to one or more recipients.
type Email struct {
	From      string
	To        []string
	Subject   string
	TextBody  string
	HtmlBody  string
	MessageID string
}

// Batch is one message sent separately to each address in To.
type Batch struct {
	From     string
	To       []string
	Subject  string
	TextBody string
	HtmlBody string
}
