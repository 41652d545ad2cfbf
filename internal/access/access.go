// Package access implements the pure role/sensitivity authorization
// decision. It performs no I/O; callers are responsible for persisting
// the outcome via the audit recorder.
package access

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownValue = errors.New("access: unknown value")

// Role is a strictly ordered hierarchy. Each role holds all permissions
// of the roles below it. The zero value is treated as guest, matching
// the behavior for unrecognized roles at the boundary.
type Role int

const (
	RoleGuest Role = iota + 1
	RoleUser
	RoleManager
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleGuest:   "guest",
	RoleUser:    "user",
	RoleManager: "manager",
	RoleAdmin:   "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "guest"
}

// rank normalizes unknown roles down to guest.
func (r Role) rank() Role {
	if r < RoleGuest || r > RoleAdmin {
		return RoleGuest
	}
	return r
}

// ParseRole maps a role name to its typed value. Unknown names resolve
// to guest with an error so callers can choose to reject or degrade.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guest":
		return RoleGuest, nil
	case "user":
		return RoleUser, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	}
	return RoleGuest, fmt.Errorf("%w: role %q", ErrUnknownValue, s)
}

// Sensitivity is the ordered document classification. The zero value is
// "unset" so callers can apply the configured default.
type Sensitivity int

const (
	SensitivityPublic Sensitivity = iota + 1
	SensitivityInternal
	SensitivityConfidential
	SensitivitySecret
)

var sensitivityNames = map[Sensitivity]string{
	SensitivityPublic:       "public",
	SensitivityInternal:     "internal",
	SensitivityConfidential: "confidential",
	SensitivitySecret:       "secret",
}

func (s Sensitivity) String() string {
	if name, ok := sensitivityNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Sensitivity) Valid() bool {
	return s >= SensitivityPublic && s <= SensitivitySecret
}

func ParseSensitivity(s string) (Sensitivity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return SensitivityPublic, nil
	case "internal":
		return SensitivityInternal, nil
	case "confidential":
		return SensitivityConfidential, nil
	case "secret":
		return SensitivitySecret, nil
	}
	return 0, fmt.Errorf("%w: sensitivity %q", ErrUnknownValue, s)
}

// Action names an operation a caller attempts against a document.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionShare    Action = "share"
	ActionGenerate Action = "generate"
	ActionArchive  Action = "archive"
)

// Minimum role required to view a document at each sensitivity level.
var sensitivityFloor = map[Sensitivity]Role{
	SensitivityPublic:       RoleGuest,
	SensitivityInternal:     RoleUser,
	SensitivityConfidential: RoleManager,
	SensitivitySecret:       RoleAdmin,
}

// Minimum role required per action, independent of sensitivity.
// Generate is not permission-gated; the lifecycle manager never asks
// the engine about it.
var actionFloor = map[Action]Role{
	ActionView:     RoleGuest,
	ActionDownload: RoleUser,
	ActionEdit:     RoleManager,
	ActionDelete:   RoleManager,
	ActionShare:    RoleManager,
	ActionArchive:  RoleManager,
}

// Deny reasons. Callers log the specific gate that failed, so the two
// strings must stay distinct.
const (
	ReasonSensitivity   = "insufficient role for sensitivity"
	ReasonAction        = "insufficient role for action"
	ReasonUnknownAction = "unknown action"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Decide reports whether role may perform action on a document at the
// given sensitivity. Both gates are hard AND-ed: the role must meet the
// sensitivity floor and the action floor. A document's creator gets no
// implicit bypass.
func Decide(role Role, action Action, sensitivity Sensitivity) Decision {
	floor, ok := actionFloor[action]
	if !ok {
		return deny(ReasonUnknownAction)
	}
	if role.rank() < sensitivityFloor[sensitivity.clamp()] {
		return deny(ReasonSensitivity)
	}
	if role.rank() < floor {
		return deny(ReasonAction)
	}
	return allow()
}

// clamp treats out-of-range sensitivities as secret, failing closed.
func (s Sensitivity) clamp() Sensitivity {
	if !s.Valid() {
		return SensitivitySecret
	}
	return s
}
