package dispatch

import (
	"context"
	"encoding/json"

	"github.com/steveyegge/swarm/internal/protocol"
)

// batchItem is one sub-result inside a batch reply.
type batchItem struct {
	Seq int                 `json:"seq"`
	Ev  string              `json:"ev"`
	OK  bool                `json:"ok"`
	D   json.RawMessage     `json:"d,omitempty"`
	Err *protocol.ErrorBody `json:"err,omitempty"`
}

type batchSummary struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
}

type batchBody struct {
	Items   []batchItem  `json:"items"`
	Summary batchSummary `json:"summary"`
}

// handleBatch runs sub-requests in order and reports per-item outcomes.
// The outer envelope is ok even when items fail; the summary carries the
// split. Nested batches are rejected.
func handleBatch(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	opsRaw, ok := req.Args["ops"]
	if !ok {
		env := protocol.Error(req.RID, protocol.CodeInvalid, "batch requires ops").
			WithFix(`Example: {"cmd":"batch","ops":[{"cmd":"status"}]}`)
		if _, hasCmds := req.Args["cmds"]; hasCmds {
			env = protocol.Error(req.RID, protocol.CodeInvalid, "batch takes ops, not cmds").
				WithFix(`Rename cmds to ops: {"cmd":"batch","ops":[...]}`)
		}
		return env
	}

	var ops []json.RawMessage
	if err := json.Unmarshal(opsRaw, &ops); err != nil {
		return protocol.Error(req.RID, protocol.CodeInvalid, "ops must be an array of requests").
			WithFix(`Example: {"cmd":"batch","ops":[{"cmd":"status"},{"cmd":"agents"}]}`)
	}
	if len(ops) == 0 {
		return protocol.Error(req.RID, protocol.CodeInvalid, "ops must not be empty").
			WithFix("Add at least one operation to the batch")
	}

	body := batchBody{Summary: batchSummary{Total: len(ops)}}
	for i, op := range ops {
		item := batchItem{Seq: i, Ev: "item"}

		sub, err := protocol.ParseRequest(op)
		if err == nil && sub.Cmd == "batch" {
			item.Err = &protocol.ErrorBody{Code: protocol.CodeInvalid, Msg: "nested batch is not allowed"}
		} else {
			env := d.Dispatch(ctx, op)
			item.OK = env.OK
			item.D = env.D
			item.Err = env.Err
		}

		if item.OK {
			body.Summary.Pass++
		} else {
			body.Summary.Fail++
		}
		body.Items = append(body.Items, item)
	}
	return protocol.SuccessValue(req.RID, body)
}
