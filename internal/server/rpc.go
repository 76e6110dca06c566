package server

import (
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/logging"
)

// JSON-RPC 2.0 error codes. The -320xx range is implementation defined.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcNotFound       = -32004
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// rpcIDParams is the argument of every method that addresses an existing
// model or job.
type rpcIDParams struct {
	ModelID        string `json:"model_id"`
	OptimizationID string `json:"optimization_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := s.decodeBody(w, r, &request); err != nil {
		s.respondWithError(w, r, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, r, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "model.load":
		var req loadModelRequest
		if err = firstParam(request.Params, &req); err == nil {
			result, err = s.loadModel(req)
		}
	case "model.simulate":
		var req struct {
			rpcIDParams
			simulateRequest
		}
		if err = firstParam(request.Params, &req); err == nil {
			result, err = s.simulate(r.Context(), req.ModelID, req.simulateRequest)
		}
	case "optimization.start":
		var req struct {
			rpcIDParams
			Params json.RawMessage `json:"params"`
		}
		if err = firstParam(request.Params, &req); err == nil {
			result, err = s.startOptimization(req.ModelID, req.Params)
		}
	case "optimization.status":
		var req rpcIDParams
		if err = firstParam(request.Params, &req); err == nil {
			result, err = s.optimizationStatus(req.OptimizationID)
		}
	case "optimization.cancel":
		var req rpcIDParams
		if err = firstParam(request.Params, &req); err == nil {
			err = s.cancelOptimization(req.OptimizationID)
			result = map[string]interface{}{"optimization_id": req.OptimizationID, "status": "cancelling"}
		}
	default:
		s.respondWithError(w, r, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, r, rpcCode(err), err.Error(), request.ID)
		return
	}

	// Send successful response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// firstParam decodes the first positional parameter into v.
func firstParam(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return errors.New(errors.KindConfiguration, "missing required parameters").WithComponent("rpc")
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return errors.Wrap(err, errors.KindConfiguration, "invalid parameter format, expected object").
			WithComponent("rpc")
	}
	return nil
}

func rpcCode(err error) int {
	switch errors.KindOf(err) {
	case errors.KindConfiguration, errors.KindData:
		return rpcInvalidParams
	case errors.KindNotFound:
		return rpcNotFound
	default:
		return rpcServerError
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, code int, message string, id interface{}) {
	logging.FromContext(r.Context()).Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
