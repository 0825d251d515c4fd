// Package ids provides shared identity types used across the swarm layers.
package ids

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// RepoID identifies the repository a swarm operates on. It is derived from
// the git toplevel directory name, or "local" when no repository is found.
type RepoID struct {
	value string
}

// NewRepoID creates a RepoID from an explicit value.
func NewRepoID(value string) RepoID {
	return RepoID{value: value}
}

// RepoIDFromCurrentDir resolves the RepoID from the enclosing git repository.
// Returns false when the working directory is not inside a git repository.
func RepoIDFromCurrentDir() (RepoID, bool) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return RepoID{}, false
	}
	top := strings.TrimSpace(string(out))
	if top == "" {
		return RepoID{}, false
	}
	return RepoID{value: filepath.Base(top)}, true
}

// Value returns the raw repository identifier.
func (r RepoID) Value() string {
	return r.value
}

func (r RepoID) String() string {
	return r.value
}

// IsZero reports whether the RepoID is unset.
func (r RepoID) IsZero() bool {
	return r.value == ""
}

// AgentID is a repository-scoped agent identity: repo plus a positive
// ordinal. Its address form is "<repo>-<n>".
type AgentID struct {
	Repo RepoID
	Num  uint32
}

// NewAgentID creates an AgentID for the given repo and ordinal.
func NewAgentID(repo RepoID, num uint32) AgentID {
	return AgentID{Repo: repo, Num: num}
}

// String returns the address for this agent, e.g. "myrepo-3".
func (a AgentID) String() string {
	return fmt.Sprintf("%s-%d", a.Repo.Value(), a.Num)
}

// ParseAgentAddress parses "<repo>-<n>" back into an AgentID.
// Repo names may contain dashes, so the ordinal is the final segment.
func ParseAgentAddress(addr string) (AgentID, bool) {
	idx := strings.LastIndex(addr, "-")
	if idx <= 0 || idx == len(addr)-1 {
		return AgentID{}, false
	}
	n, err := strconv.ParseUint(addr[idx+1:], 10, 32)
	if err != nil || n == 0 {
		return AgentID{}, false
	}
	return AgentID{Repo: NewRepoID(addr[:idx]), Num: uint32(n)}, true
}

// BeadID identifies a unit of work. Always non-empty.
type BeadID struct {
	value string
}

// NewBeadID creates a BeadID. Returns false for empty or whitespace input.
func NewBeadID(value string) (BeadID, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return BeadID{}, false
	}
	return BeadID{value: trimmed}, true
}

// Value returns the raw bead identifier.
func (b BeadID) Value() string {
	return b.value
}

func (b BeadID) String() string {
	return b.value
}

// IsZero reports whether the BeadID is unset.
func (b BeadID) IsZero() bool {
	return b.value == ""
}
