package protocol

import (
	"encoding/json"
	"testing"
)

func parseLine(t *testing.T, line string) *Request {
	t.Helper()
	req, err := ParseRequest([]byte(line))
	if err != nil {
		t.Fatalf("ParseRequest(%q): %v", line, err)
	}
	return req
}

func ctxField(t *testing.T, env *Envelope, key string) string {
	t.Helper()
	if env == nil || env.Err == nil {
		t.Fatal("expected error envelope")
	}
	var ctx map[string]any
	if err := json.Unmarshal(env.Err.Ctx, &ctx); err != nil {
		t.Fatalf("bad ctx: %v", err)
	}
	value, _ := ctx[key].(string)
	return value
}

func TestValidateRejectsNullByteWithFieldPath(t *testing.T) {
	line := `{"cmd":"lock","resource":"cache\u0000poison","agent":"a1"}`
	req := parseLine(t, line)
	env := Validate([]byte(line), req)
	if env == nil || env.OK {
		t.Fatal("null byte must be rejected")
	}
	if env.Err.Code != CodeInvalid {
		t.Errorf("code = %q, want INVALID", env.Err.Code)
	}
	if got := ctxField(t, env, "field"); got != "resource" {
		t.Errorf("ctx.field = %q, want %q", got, "resource")
	}
	if env.Fix == "" {
		t.Error("error envelope must carry a fix")
	}
}

func TestValidateNullBytePathInNestedOps(t *testing.T) {
	line := `{"cmd":"batch","ops":[{"cmd":"status"},{"cmd":"lock","meta":{"rid":"x\u0000y"}}]}`
	req := parseLine(t, line)
	env := Validate([]byte(line), req)
	if env == nil {
		t.Fatal("expected rejection")
	}
	if got := ctxField(t, env, "field"); got != "ops[1].meta.rid" {
		t.Errorf("ctx.field = %q, want %q", got, "ops[1].meta.rid")
	}
}

func TestValidateUnknownCommandSuggests(t *testing.T) {
	line := `{"cmd":"staus"}`
	req := parseLine(t, line)
	env := Validate([]byte(line), req)
	if env == nil {
		t.Fatal("unknown command must be rejected")
	}
	want := "Unknown command: staus. Did you mean: status?"
	if env.Err.Msg != want {
		t.Errorf("msg = %q, want %q", env.Err.Msg, want)
	}
}

func TestValidateUnknownCommandNoCloseMatch(t *testing.T) {
	line := `{"cmd":"completely-unrelated-thing"}`
	req := parseLine(t, line)
	env := Validate([]byte(line), req)
	if env == nil {
		t.Fatal("unknown command must be rejected")
	}
	if env.Err.Msg != "Unknown command: completely-unrelated-thing" {
		t.Errorf("msg = %q", env.Err.Msg)
	}
}

func TestValidateArgWhitelist(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		wantOK bool
	}{
		{"own arg", `{"cmd":"lock","resource":"r","agent":"a1","ttl_ms":5000}`, true},
		{"global arg", `{"cmd":"status","repo_id":"myrepo"}`, true},
		{"global timeout", `{"cmd":"claim-next","agent_id":1,"connect_timeout_ms":500}`, true},
		{"unknown arg", `{"cmd":"lock","resource":"r","sneaky":true}`, false},
		{"arg from other command", `{"cmd":"status","resource":"r"}`, false},
		{"lock rejects owner", `{"cmd":"lock","resource":"r","owner":"o"}`, false},
		{"unlock takes agent", `{"cmd":"unlock","resource":"r","agent":"a1"}`, true},
		{"artifacts takes artifact_type", `{"cmd":"artifacts","bead_id":"bd-1","artifact_type":"retry_packet"}`, true},
		{"artifacts rejects type", `{"cmd":"artifacts","bead_id":"bd-1","type":"retry_packet"}`, false},
		{"resume takes no args", `{"cmd":"resume"}`, true},
		{"resume rejects agent_id", `{"cmd":"resume","agent_id":"myrepo-1"}`, false},
		{"resume-context takes bead_id", `{"cmd":"resume-context","bead_id":"bd-1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseLine(t, tt.line)
			env := Validate([]byte(tt.line), req)
			if (env == nil) != tt.wantOK {
				t.Errorf("Validate() = %+v, wantOK %v", env, tt.wantOK)
			}
		})
	}
}

func TestSuggestCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
		found bool
	}{
		{"staus", "status", true},
		{"clam-next", "claim-next", true},
		{"monitro", "monitor", true},
		{"xyzzy-frobnicate", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, found := SuggestCommand(tt.input)
			if found != tt.found || got != tt.want {
				t.Errorf("SuggestCommand(%q) = %q, %v; want %q, %v",
					tt.input, got, found, tt.want, tt.found)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	req := parseLine(t, `{"cmd":"claim-next","rid":"r-1","dry":true,"agent_id":2}`)
	if req.Cmd != "claim-next" {
		t.Errorf("cmd = %q", req.Cmd)
	}
	if req.RID == nil || *req.RID != "r-1" {
		t.Errorf("rid = %v", req.RID)
	}
	if !req.Dry {
		t.Error("dry not parsed")
	}
	if n, ok := req.UintArg("agent_id"); !ok || n != 2 {
		t.Errorf("agent_id = %d, %v", n, ok)
	}
	if _, ok := req.Args["rid"]; ok {
		t.Error("rid must not leak into args")
	}
}

func TestParseRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{{{`},
		{"missing cmd", `{"rid":"x"}`},
		{"cmd wrong type", `{"cmd":7}`},
		{"dry wrong type", `{"cmd":"status","dry":"yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRequest([]byte(tt.line)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestEnvelopeEncode(t *testing.T) {
	rid := "r-9"
	env := SuccessValue(&rid, map[string]any{"claim": nil}).
		WithNext("swarm status").
		WithState(StateSummary{Total: 4, Active: 1})
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["ok"] != true {
		t.Error("ok missing")
	}
	if decoded["rid"] != "r-9" {
		t.Errorf("rid = %v", decoded["rid"])
	}
	if decoded["next"] != "swarm status" {
		t.Errorf("next = %v", decoded["next"])
	}
	if _, hasErr := decoded["err"]; hasErr {
		t.Error("success envelope must not carry err")
	}
}
