// Package protocol defines the line-delimited JSON envelope spoken on
// stdin/stdout, its error codes, and the request validation that runs before
// any command dispatch.
package protocol

import (
	"encoding/json"
	"time"
)

// Wire error codes. Every error envelope carries exactly one.
const (
	CodeInvalid      = "INVALID"
	CodeNotFound     = "NOTFOUND"
	CodeConflict     = "CONFLICT"
	CodeBusy         = "BUSY"
	CodeInternal     = "INTERNAL"
	CodeCLIError     = "CLI_ERROR"
	CodeExists       = "EXISTS"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeDependency   = "DEPENDENCY"
	CodeTimeout      = "TIMEOUT"
)

// ErrorBody is the err object of a failed envelope.
type ErrorBody struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Ctx  json.RawMessage `json:"ctx,omitempty"`
}

// StateSummary is the swarm-wide counter pair attached to every reply.
type StateSummary struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// Envelope is one reply line. Exactly one of D or Err is set.
type Envelope struct {
	OK    bool            `json:"ok"`
	RID   *string         `json:"rid,omitempty"`
	T     int64           `json:"t"`
	MS    int64           `json:"ms"`
	D     json.RawMessage `json:"d,omitempty"`
	Err   *ErrorBody      `json:"err,omitempty"`
	Fix   string          `json:"fix,omitempty"`
	Next  string          `json:"next,omitempty"`
	State *StateSummary   `json:"state,omitempty"`
}

// NowMS returns the current unix time in milliseconds.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// Success builds an ok envelope around already-marshaled data.
func Success(rid *string, data json.RawMessage) *Envelope {
	return &Envelope{OK: true, RID: rid, T: NowMS(), D: data}
}

// SuccessValue marshals v and builds an ok envelope. Marshal failures
// degrade to an INTERNAL error envelope rather than dropping the reply.
func SuccessValue(rid *string, v any) *Envelope {
	data, err := json.Marshal(v)
	if err != nil {
		return Error(rid, CodeInternal, "failed to encode response").
			WithFix("Report this; the command succeeded but its result was not serializable")
	}
	return Success(rid, data)
}

// Error builds a failed envelope with the given code and message.
func Error(rid *string, code, msg string) *Envelope {
	return &Envelope{
		OK:  false,
		RID: rid,
		T:   NowMS(),
		Err: &ErrorBody{Code: code, Msg: msg},
	}
}

// WithFix attaches the actionable hint. Error envelopes must always carry
// one before they are written.
func (e *Envelope) WithFix(fix string) *Envelope {
	e.Fix = fix
	return e
}

// WithCtx attaches structured error context. Marshal failures leave ctx
// empty; the code and msg still identify the failure.
func (e *Envelope) WithCtx(ctx any) *Envelope {
	data, err := json.Marshal(ctx)
	if err != nil {
		return e
	}
	if e.Err != nil {
		e.Err.Ctx = data
	}
	return e
}

// WithNext attaches the suggested follow-up command.
func (e *Envelope) WithNext(next string) *Envelope {
	e.Next = next
	return e
}

// WithState attaches the swarm-wide counters.
func (e *Envelope) WithState(state StateSummary) *Envelope {
	e.State = &state
	return e
}

// WithElapsed stamps the handling duration.
func (e *Envelope) WithElapsed(d time.Duration) *Envelope {
	e.MS = d.Milliseconds()
	return e
}

// Encode renders the envelope as one JSON line (no trailing newline).
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
