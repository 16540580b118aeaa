// Package envelope implements the wire format for post-rpc.
//
// All protocol traffic rides as a single key of a JSON object payload, keyed
// by the reserved namespace string. Anything else on the channel is somebody
// else's traffic and must be ignored without complaint.
//
// Wire shapes:
//
//	request:  {"post-rpc": {"id": "...", "method": "echo", "args": [1, 2, 3]}}
//	response: {"post-rpc": {"id": "...", "ret": <any, may be null>}}
//	          {"post-rpc": {"id": "...", "error": "reason"}}
//
// Classification is by field presence, not by a status flag: a "method" field
// makes an envelope a request; a "ret" or "error" key (even with a null
// value) makes it a response. Parse validates and returns a tagged outcome so
// callers never probe raw fields themselves.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Key is the reserved namespace key. Other consumers of the same channel are
// expected to stay out of it.
const Key = "post-rpc"

// Request asks the remote side to invoke a named method with positional args.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Response carries the single return value for the request with the same ID.
// Exactly one of Ret/Err is meaningful: a non-empty Err marks a failed call.
// Ret is emitted even when nil — its presence is what marks an envelope as a
// completed response on the wire.
type Response struct {
	ID  string `json:"id"`
	Ret any    `json:"ret"`
	Err string `json:"error,omitempty"`
}

// NewID returns a fresh call id. UUIDs give 128 bits of uniqueness, enough to
// treat collisions between outstanding calls as negligible.
func NewID() string {
	return uuid.NewString()
}

// EncodeRequest wraps a request under the namespace key.
func EncodeRequest(req *Request) ([]byte, error) {
	if req.ID == "" || req.Method == "" {
		return nil, fmt.Errorf("envelope: request needs id and method")
	}
	args := req.Args
	if args == nil {
		args = []any{} // args is positional; encode an empty list, not null
	}
	return json.Marshal(map[string]*Request{
		Key: {ID: req.ID, Method: req.Method, Args: args},
	})
}

// EncodeResponse wraps a response under the namespace key. The "ret" key is
// always present on success responses, a null value included; on failure the
// "error" field carries the reason instead.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.ID == "" {
		return nil, fmt.Errorf("envelope: response needs an id")
	}
	if resp.Err != "" {
		return json.Marshal(map[string]map[string]any{
			Key: {"id": resp.ID, "error": resp.Err},
		})
	}
	return json.Marshal(map[string]map[string]any{
		Key: {"id": resp.ID, "ret": resp.Ret},
	})
}

// Parse classifies a raw payload. It returns exactly one non-nil result for
// protocol traffic, and (nil, nil) for everything else — malformed JSON, a
// missing namespace key, a missing id, or an inner object that is neither a
// request nor a response. Foreign traffic is the steady state on a shared
// channel, so none of those cases is an error.
func Parse(data []byte) (*Request, *Response) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, nil
	}
	raw, ok := outer[Key]
	if !ok {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil
	}

	var id string
	if rawID, ok := fields["id"]; !ok || json.Unmarshal(rawID, &id) != nil || id == "" {
		return nil, nil
	}

	// A method field makes it a request.
	if rawMethod, ok := fields["method"]; ok {
		var method string
		if json.Unmarshal(rawMethod, &method) != nil || method == "" {
			return nil, nil
		}
		args := []any{}
		if rawArgs, ok := fields["args"]; ok {
			if json.Unmarshal(rawArgs, &args) != nil {
				return nil, nil
			}
			if args == nil {
				args = []any{}
			}
		}
		return &Request{ID: id, Method: method, Args: args}, nil
	}

	// Presence of "ret" — value irrelevant, null included — or of "error"
	// makes it a response.
	rawRet, hasRet := fields["ret"]
	rawErr, hasErr := fields["error"]
	if !hasRet && !hasErr {
		return nil, nil
	}
	resp := &Response{ID: id}
	if hasRet {
		if json.Unmarshal(rawRet, &resp.Ret) != nil {
			return nil, nil
		}
	}
	if hasErr {
		if json.Unmarshal(rawErr, &resp.Err) != nil {
			return nil, nil
		}
	}
	return nil, resp
}
