// Package sendemail defines the JSON contract of the /sendemail endpoint
// shared by the bulkmail client and the dispatch service.
package sendemail

// Path is the endpoint path, relative to the service base URL.
const Path = "/sendemail"

// Request is the body posted by the client.
type Request struct {
	Message string   `json:"msg"`
	Emails  []string `json:"emails"`
}

// Reply is the body returned by the service. Failure replies may carry
// Message instead of, or in addition to, Status.
type Reply struct {
	Status  string `json:"status"`
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// Succeeded reports whether the reply carries a true success indicator.
// A missing indicator counts as failure.
func (r *Reply) Succeeded() bool {
	return r != nil && r.Success != nil && *r.Success
}

// Success and Failure build replies with the indicator set.
func Success(status string) Reply {
	ok := true
	return Reply{Status: status, Success: &ok}
}

func Failure(status string) Reply {
	ok := false
	return Reply{Status: status, Success: &ok}
}
