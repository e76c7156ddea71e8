// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeServerError    = -32000
)

// rpcError is a malformed inbound message. Its text is safe to return.
type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string { return e.message }

var (
	errBatch          = &rpcError{code: codeInvalidRequest, message: "batch requests are not supported"}
	errParse          = &rpcError{code: codeParseError, message: "parse error"}
	errInvalidRequest = &rpcError{code: codeInvalidRequest, message: "invalid JSON-RPC 2.0 request"}
)

// statusFor maps an error to the status shown to proxy callers. Callers only
// ever see the status text, never the error itself.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, gateway.ErrPoolExhausted),
		errors.Is(err, gateway.ErrUpstreamUnavailable),
		errors.Is(err, gateway.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrUnknownServer), errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrPermissionDenied):
		return http.StatusForbidden
	}
	return httperr.Code(err)
}

// writeError writes a bare status response.
func writeError(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

// writeRPCError writes a JSON-RPC error envelope. Only rpcError details are
// exposed; everything else is reported by status text.
func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, err error) {
	code, message := codeServerError, http.StatusText(status)
	var re *rpcError
	if errors.As(err, &re) {
		code, message = re.code, re.message
	}
	if id == nil {
		id = json.RawMessage("null")
	}

	body, _ := json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{JSONRPC: "2.0", ID: id, Error: struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
