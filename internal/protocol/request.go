package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is one parsed stdin line: a command plus free-form arguments.
// Args holds everything except cmd, rid, and dry.
type Request struct {
	Cmd  string
	RID  *string
	Dry  bool
	Args map[string]json.RawMessage
}

// ParseRequest decodes one protocol line. The cmd field is required; every
// other top-level field lands in Args except rid and dry.
func ParseRequest(line []byte) (*Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}

	req := &Request{Args: make(map[string]json.RawMessage)}

	cmdRaw, ok := raw["cmd"]
	if !ok {
		return nil, fmt.Errorf("parse request: missing cmd")
	}
	if err := json.Unmarshal(cmdRaw, &req.Cmd); err != nil {
		return nil, fmt.Errorf("parse request: cmd must be a string")
	}

	if ridRaw, ok := raw["rid"]; ok {
		var rid string
		if err := json.Unmarshal(ridRaw, &rid); err != nil {
			return nil, fmt.Errorf("parse request: rid must be a string")
		}
		req.RID = &rid
	}

	if dryRaw, ok := raw["dry"]; ok {
		if err := json.Unmarshal(dryRaw, &req.Dry); err != nil {
			return nil, fmt.Errorf("parse request: dry must be a boolean")
		}
	}

	for key, value := range raw {
		switch key {
		case "cmd", "rid", "dry":
		default:
			req.Args[key] = value
		}
	}
	return req, nil
}

// StringArg extracts a string argument. Returns false when absent or not a
// string.
func (r *Request) StringArg(name string) (string, bool) {
	raw, ok := r.Args[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// UintArg extracts a non-negative integer argument.
func (r *Request) UintArg(name string) (uint64, bool) {
	raw, ok := r.Args[name]
	if !ok {
		return 0, false
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// IntArg extracts a signed integer argument. Returns false when absent or
// not an integer; negative values are returned as-is so callers can reject
// them with a useful message.
func (r *Request) IntArg(name string) (int64, bool) {
	raw, ok := r.Args[name]
	if !ok {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// BoolArg extracts a boolean argument.
func (r *Request) BoolArg(name string) (bool, bool) {
	raw, ok := r.Args[name]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}
