package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// GlobalArgs are accepted by every command in addition to its own whitelist.
var GlobalArgs = []string{"repo_id", "database_url", "connect_timeout_ms"}

// commandArgs whitelists the arguments each command accepts. An argument
// outside the union of this set and GlobalArgs is rejected before dispatch.
var commandArgs = map[string][]string{
	"?":              {},
	"help":           {},
	"doctor":         {},
	"status":         {"limit"},
	"state":          {"limit"},
	"agents":         {},
	"history":        {"limit"},
	"next":           {},
	"claim-next":     {"agent_id", "timeout_ms"},
	"assign":         {"bead_id", "agent_id"},
	"run-once":       {"agent_id"},
	"qa":             {"bead_id"},
	"resume":         {},
	"resume-context": {"bead_id"},
	"artifacts":      {"bead_id", "stage", "artifact_type", "limit"},
	"agent":          {"id"},
	"register":       {"count"},
	"release":        {"agent_id"},
	"monitor":        {"view", "limit", "watch_ms"},
	"init":           {"force"},
	"init-db":        {"url"},
	"init-local-db":  {},
	"bootstrap":      {"count"},
	"spawn-prompts":  {"count", "dir"},
	"prompt":         {"agent_id"},
	"smoke":          {},
	"batch":          {"ops", "cmds"},
	"lock":           {"resource", "agent", "ttl_ms"},
	"unlock":         {"resource", "agent"},
	"broadcast":      {"msg", "from"},
	"load-profile":   {"agents", "rounds", "timeout_ms"},
}

// Commands returns the known command names, sorted.
func Commands() []string {
	names := make([]string, 0, len(commandArgs))
	for name := range commandArgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KnownCommand reports whether name is a dispatchable command.
func KnownCommand(name string) bool {
	_, ok := commandArgs[name]
	return ok
}

// AllowedArgs returns the full allowed-argument set for a command.
func AllowedArgs(cmd string) []string {
	own := commandArgs[cmd]
	all := make([]string, 0, len(own)+len(GlobalArgs))
	all = append(all, own...)
	all = append(all, GlobalArgs...)
	sort.Strings(all)
	return all
}

// Validate runs the pre-dispatch checks on a raw line and its parsed
// request: null-byte rejection, known command, and the argument whitelist.
// It returns nil when the request may be dispatched.
func Validate(line []byte, req *Request) *Envelope {
	if path, found := findNullByte(line); found {
		return Error(req.RID, CodeInvalid,
			fmt.Sprintf("null byte in field %s", path)).
			WithFix("Remove null bytes from all string values").
			WithCtx(map[string]string{"field": path})
	}

	if !KnownCommand(req.Cmd) {
		msg := fmt.Sprintf("Unknown command: %s", req.Cmd)
		if suggestion, ok := SuggestCommand(req.Cmd); ok {
			msg = fmt.Sprintf("Unknown command: %s. Did you mean: %s?", req.Cmd, suggestion)
		}
		return Error(req.RID, CodeInvalid, msg).
			WithFix("Run '?' to list supported commands").
			WithCtx(map[string]any{"cmd": req.Cmd, "supported": Commands()})
	}

	allowed := AllowedArgs(req.Cmd)
	for name := range req.Args {
		if !contains(allowed, name) {
			return Error(req.RID, CodeInvalid,
				fmt.Sprintf("unexpected argument %q for %s", name, req.Cmd)).
				WithFix(fmt.Sprintf("Allowed arguments for %s: %s", req.Cmd, strings.Join(allowed, ", "))).
				WithCtx(map[string]any{"arg": name, "allowed": allowed})
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// findNullByte walks the request document and returns the dotted path of the
// first string (key or value) containing a null byte. Array elements use
// bracket notation, e.g. ops[1].meta.rid.
func findNullByte(line []byte) (string, bool) {
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		// Unparseable input is handled by the parse path, not here.
		return "", false
	}
	return walkForNull(doc, "")
}

func walkForNull(node any, path string) (string, bool) {
	switch v := node.(type) {
	case string:
		if strings.ContainsRune(v, 0) {
			return path, true
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if strings.ContainsRune(key, 0) {
				return childPath, true
			}
			if found, ok := walkForNull(v[key], childPath); ok {
				return found, true
			}
		}
	case []any:
		for i, item := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if found, ok := walkForNull(item, childPath); ok {
				return found, true
			}
		}
	}
	return "", false
}
