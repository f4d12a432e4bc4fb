// Package rpc exposes the station engine over JSON-RPC 2.0 HTTP: a flat
// method-name dispatch table, a thin RPCRequest/RPCResponse envelope, and
// writeError/writeResult helpers that always answer with a well-formed
// JSON-RPC response body.
package rpc

import (
	"encoding/json"
	"net/http"

	stationerrors "stationd/core/errors"
)

const jsonRPCVersion = "2.0"

// Standard JSON-RPC codes for parse/method problems, plus the six
// core/errors kinds mapped to their own ranges.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeValidation     = -32602
	codeNotFound       = -32001
	codeAuthorization  = -32002
	codeConflict       = -32003
	codeEvaluate       = -32004
	codeExternal       = -32005
	codeRateLimited    = -32010
	codeInternal       = -32000
)

// RPCRequest is one JSON-RPC 2.0 call.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RPCResponse is one JSON-RPC 2.0 reply. Result and Error are mutually
// exclusive.
type RPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	})
}

// writeEngineError maps a core/errors kind to its JSON-RPC code and writes
// the response. Any error that isn't one of the six kinds is reported as
// an internal error without leaking its message.
func writeEngineError(w http.ResponseWriter, id any, err error) {
	if nf, ok := stationerrors.AsNotFound(err); ok {
		writeError(w, http.StatusNotFound, id, codeNotFound, nf.Error())
		return
	}
	if v, ok := stationerrors.AsValidation(err); ok {
		writeError(w, http.StatusBadRequest, id, codeValidation, v.Error())
		return
	}
	if a, ok := stationerrors.AsAuthorization(err); ok {
		writeError(w, http.StatusForbidden, id, codeAuthorization, a.Error())
		return
	}
	if c, ok := stationerrors.AsConflict(err); ok {
		writeError(w, http.StatusConflict, id, codeConflict, c.Error())
		return
	}
	if e, ok := stationerrors.AsEvaluate(err); ok {
		writeError(w, http.StatusUnprocessableEntity, id, codeEvaluate, e.Error())
		return
	}
	if e, ok := stationerrors.AsExternal(err); ok {
		writeError(w, http.StatusBadGateway, id, codeExternal, e.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeInternal, "internal error")
}
