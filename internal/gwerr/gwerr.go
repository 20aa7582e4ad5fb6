// Package gwerr defines the gateway's error taxonomy and the two response
// encodings the HTTP surface uses: plain text for gateway-internal proxy
// failures, JSON for the health endpoint.
package gwerr

import (
	"encoding/json"
	"net/http"
)

// Kind identifies the propagation policy an Error follows, mirroring the
// gateway's error taxonomy.
type Kind string

const (
	KindConfigParse      Kind = "config_parse"
	KindConfigValidation Kind = "config_validation"
	KindBind             Kind = "bind"
	KindNoRouteMatched   Kind = "no_route_matched"
	KindGuardRejected    Kind = "guard_rejected"
	KindInboundBody      Kind = "inbound_body"
	KindUpstreamTransport Kind = "upstream_transport"
	KindUpstreamBody     Kind = "upstream_body"
	KindDeadlineExceeded Kind = "deadline_exceeded"
)

// Error is a gateway-internal error carrying its taxonomy Kind and a
// client-facing message. It never wraps a panic — the proxy handler
// converts panics to a plain 500 before they reach this type.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error for the given taxonomy kind, status code and
// client-facing message.
func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// WriteText writes the error as a plain-text body, matching the literal
// strings the gateway's HTTP surface contract requires (e.g. "Failed to
// read request body"). This is the response format for every
// gateway-internal code on the proxy and guard paths.
func (e *Error) WriteText(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(e.Status)
	w.Write([]byte(e.Message))
}

// WriteText writes an arbitrary status/message pair as plain text without
// requiring an *Error value, for call sites that only have a message.
func WriteText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(message))
}

// WriteJSON encodes v as JSON with the given status code. Reserved for the
// health/readiness endpoint; every other gateway-internal response is
// plain text.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
