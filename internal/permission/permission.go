// Package permission decides, per run, whether a requested tool permission
// mode may take effect and which tool patterns a run is allowed to use.
package permission

import (
	"github.com/burrowai/burrow/internal/apierr"
)

// Mode is a tool permission mode requested by the caller and enforced by the
// agent engine during tool execution.
type Mode string

const (
	// ModeDefault asks for approval on every non-trivial tool call.
	ModeDefault Mode = "default"
	// ModeAcceptEdits auto-approves file edits but asks for the rest.
	ModeAcceptEdits Mode = "acceptEdits"
	// ModeBypassAll approves every tool call without asking. Only honored
	// when the server-wide allow flag is set.
	ModeBypassAll Mode = "bypassPermissions"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDefault, ModeAcceptEdits, ModeBypassAll:
		return true
	}
	return false
}

// Decide resolves the effective permission mode for a run.
//
// An empty request resolves to ModeAcceptEdits. ModeDefault and
// ModeAcceptEdits are always honored. ModeBypassAll is honored only when
// allowBypass is set; otherwise the run is rejected outright rather than
// silently downgraded.
func Decide(requested Mode, allowBypass bool) (Mode, error) {
	if requested == "" {
		requested = ModeAcceptEdits
	}
	if !requested.Valid() {
		return "", apierr.New(apierr.KindValidation, "unknown permission mode %q", string(requested))
	}
	if requested == ModeBypassAll && !allowBypass {
		return "", apierr.New(apierr.KindPolicyViolation,
			"permission mode %q is disabled on this server", string(ModeBypassAll))
	}
	return requested, nil
}
