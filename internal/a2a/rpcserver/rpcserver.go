// Package rpcserver exposes a handler.Handler over JSON-RPC 2.0 (spec.md
// §6.1) and Server-Sent Events for the two streaming methods. No JSON-RPC
// framework appears anywhere in the examples pack (the teacher's own A2A
// surface is served through goa's generated transport, which requires a
// design package this repository has none of); a plain net/http dispatcher
// over the standard library is the narrowest faithful reading of §6.1, so
// this one component is stdlib by necessity rather than by default.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

// Handler is the subset of handler.Handler the RPC surface depends on.
type Handler interface {
	OnMessageSend(ctx context.Context, params types.MessageSendParams) (types.SendMessageResult, error)
	OnMessageSendStream(ctx context.Context, params types.MessageSendParams) (<-chan types.Event, error)
	OnGetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error)
	OnCancelTask(ctx context.Context, params types.TaskIDParams) (*types.Task, error)
	OnResubscribeToTask(ctx context.Context, params types.TaskIDParams) (<-chan types.Event, error)
	OnSetPushNotificationConfig(ctx context.Context, cfg types.PushNotificationConfig) (*types.PushNotificationConfig, error)
	OnGetPushNotificationConfig(ctx context.Context, taskID, configID string) (*types.PushNotificationConfig, error)
	OnListPushNotificationConfig(ctx context.Context, taskID string) (types.ListPushNotificationConfigResult, error)
	OnDeletePushNotificationConfig(ctx context.Context, taskID, configID string) error
}

// request is a JSON-RPC 2.0 request object.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// response is a JSON-RPC 2.0 response object.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// rpcError carries the §7 error kind mapped to a JSON-RPC error code.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var streamingMethods = map[string]bool{
	"message/stream":    true,
	"tasks/resubscribe": true,
}

// Server dispatches JSON-RPC 2.0 requests to a Handler.
type Server struct {
	h   Handler
	log telemetry.Logger
}

// New constructs a Server.
func New(h Handler, log telemetry.Logger) *Server {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Server{h: h, log: log}
}

// ServeHTTP implements http.Handler. Unary methods return a single
// JSON-RPC response; message/stream and tasks/resubscribe are upgraded
// to a Server-Sent Events response instead, since a single JSON-RPC
// response object cannot carry a stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, apierr.New(apierr.InvalidParams, "malformed JSON-RPC request"))
		return
	}

	if streamingMethods[req.Method] {
		s.dispatchStream(w, r, req)
		return
	}

	result, err := s.dispatchUnary(r.Context(), req)
	if err != nil {
		writeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatchUnary(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case "message/send":
		var params types.MessageSendParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid message/send params")
		}
		return s.h.OnMessageSend(ctx, params)

	case "tasks/get":
		var params types.TaskQueryParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid tasks/get params")
		}
		return s.h.OnGetTask(ctx, params)

	case "tasks/cancel":
		var params types.TaskIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid tasks/cancel params")
		}
		return s.h.OnCancelTask(ctx, params)

	case "tasks/pushNotificationConfig/set":
		var cfg types.PushNotificationConfig
		if err := json.Unmarshal(req.Params, &cfg); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid pushNotificationConfig/set params")
		}
		return s.h.OnSetPushNotificationConfig(ctx, cfg)

	case "tasks/pushNotificationConfig/get":
		var params pushConfigIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid pushNotificationConfig/get params")
		}
		return s.h.OnGetPushNotificationConfig(ctx, params.TaskID, params.ConfigID)

	case "tasks/pushNotificationConfig/list":
		var params types.TaskIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid pushNotificationConfig/list params")
		}
		return s.h.OnListPushNotificationConfig(ctx, params.ID)

	case "tasks/pushNotificationConfig/delete":
		var params pushConfigIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierr.New(apierr.InvalidParams, "invalid pushNotificationConfig/delete params")
		}
		return nil, s.h.OnDeletePushNotificationConfig(ctx, params.TaskID, params.ConfigID)

	default:
		return nil, apierr.Newf(apierr.InvalidParams, "unknown method %q", req.Method)
	}
}

func (s *Server) dispatchStream(w http.ResponseWriter, r *http.Request, req request) {
	var (
		stream <-chan types.Event
		err    error
	)
	switch req.Method {
	case "message/stream":
		var params types.MessageSendParams
		if uerr := json.Unmarshal(req.Params, &params); uerr != nil {
			writeError(w, req.ID, apierr.New(apierr.InvalidParams, "invalid message/stream params"))
			return
		}
		stream, err = s.h.OnMessageSendStream(r.Context(), params)
	case "tasks/resubscribe":
		var params types.TaskIDParams
		if uerr := json.Unmarshal(req.Params, &params); uerr != nil {
			writeError(w, req.ID, apierr.New(apierr.InvalidParams, "invalid tasks/resubscribe params"))
			return
		}
		stream, err = s.h.OnResubscribeToTask(r.Context(), params)
	}
	s.serveSSE(w, r, stream, err)
}

type pushConfigIDParams struct {
	TaskID   string `json:"taskId"`
	ConfigID string `json:"configId"`
}

// serveSSE streams Events as Server-Sent Events. The error taxonomy's
// propagation rule (spec.md §7) treats a mid-stream failure as terminal:
// the stream ends with a single "error" event rather than a fabricated
// final StatusUpdate.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, stream <-chan types.Event, streamErr error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, nil, apierr.New(apierr.Internal, "streaming unsupported by response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if streamErr != nil {
		s.writeSSEError(w, streamErr)
		flusher.Flush()
		return
	}

	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return
			}
			payload := types.SendStreamingMessageResult{Event: ev}
			data, err := json.Marshal(payload)
			if err != nil {
				s.log.Error(r.Context(), "marshal streaming event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeSSEError(w http.ResponseWriter, err error) {
	data, _ := json.Marshal(toRPCError(err))
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Result: result, ID: id})
}

func writeError(w http.ResponseWriter, id json.RawMessage, err error) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Error: toRPCError(err), ID: id})
}

// toRPCError maps the §7 error taxonomy onto JSON-RPC error codes,
// reserving the standard -32xxx range for protocol-level failures and a
// distinct code per domain Kind for everything else.
func toRPCError(err error) *rpcError {
	kind := apierr.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		code = -32000
	}
	return &rpcError{Code: code, Message: err.Error()}
}

var kindCodes = map[apierr.Kind]int{
	apierr.TaskNotFound:         -32001,
	apierr.InvalidParams:        -32602,
	apierr.UnsupportedOperation: -32004,
	apierr.Authentication:       -32005,
	apierr.KeyUnavailable:       -32006,
	apierr.Cryptographic:        -32007,
	apierr.Network:              -32008,
	apierr.Internal:             -32603,
}
