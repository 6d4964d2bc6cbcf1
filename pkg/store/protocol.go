package store

import (
	"encoding/json"
	"time"
)

// Op is a Store operation, as carried over a member.SendRequest
// payload -- the wire contract between pkg/httpapi and whichever
// member is currently leader.
type Op string

const (
	OpPut    Op = "put"
	OpGet    Op = "get"
	OpDelete Op = "delete"
)

// Request is the JSON payload carried inside a flock request envelope
// for a store operation.
type Request struct {
	Op    Op            `json:"op"`
	Key   string        `json:"key"`
	Value []byte        `json:"value,omitempty"`
	TTL   time.Duration `json:"ttl,omitempty"`
}

// Response is the JSON payload the leader replies with.
type Response struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
	Err   string `json:"err,omitempty"`
}

// Handle applies req against s and returns the Response -- the function a member's request handler calls once it has decoded an
// incoming Request.
func Handle(s *Store, req Request) Response {
	switch req.Op {
	case OpPut:
		s.Put(req.Key, req.Value, req.TTL)
		return Response{Found: true}
	case OpGet:
		val, ok := s.Get(req.Key)
		return Response{Value: val, Found: ok}
	case OpDelete:
		ok := s.Delete(req.Key)
		return Response{Found: ok}
	default:
		return Response{Err: "unknown op: " + string(req.Op)}
	}
}

// Marshal/Unmarshal are thin wrappers kept next to the types so callers
// in pkg/httpapi don't need to import encoding/json themselves just to
// build a request payload.

func MarshalRequest(req Request) (json.RawMessage, error) { return json.Marshal(req) }

func UnmarshalRequest(payload json.RawMessage) (Request, error) {
	var req Request
	err := json.Unmarshal(payload, &req)
	return req, err
}

func MarshalResponse(resp Response) (json.RawMessage, error) { return json.Marshal(resp) }

func UnmarshalResponse(payload json.RawMessage) (Response, error) {
	var resp Response
	err := json.Unmarshal(payload, &resp)
	return resp, err
}
