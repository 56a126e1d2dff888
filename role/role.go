// Package role implements the per-channel role state machine and the
// channel-list generation-id guard used to arbitrate between multiple
// controllers attached to the same datapath.
package role

import (
	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// Role is the control-plane posture a channel holds with respect to
// one datapath.
type Role int

const (
	// Equal is the default role: the channel may send and receive
	// every message, symmetric with every other Equal channel.
	Equal Role = iota

	// Master is an exclusive writer; promoting a channel to Master
	// demotes every other Master sharing its channel-list to Slave.
	Master

	// Slave is read-only; it may not send mutating messages.
	Slave
)

func (r Role) String() string {
	switch r {
	case Master:
		return "MASTER"
	case Slave:
		return "SLAVE"
	default:
		return "EQUAL"
	}
}

// AsyncSlot maps a role onto the 2-slot async-mask index used by
// every asynchronous-message bitmap: slot 0 for master-or-equal,
// slot 1 for slave.
func (r Role) AsyncSlot() int {
	if r == Slave {
		return 1
	}

	return 0
}

// mutatingTypes is the set of message types a SLAVE channel may not
// send, per the role filter.
var mutatingTypes = map[of.Type]bool{
	of.TypeSetConfig:   true,
	of.TypeTableMod:    true,
	of.TypeFlowMod:     true,
	of.TypeGroupMod:    true,
	of.TypePortMod:     true,
	of.TypeMeterMod:    true,
	of.TypePacketOut:   true,
	of.TypePacketIn:    true,
	of.TypeFlowRemoved: true,
}

// Check reports whether a channel holding the given role may submit a
// message of the given type. It returns false only for SLAVE channels
// attempting a mutating message.
func Check(r Role, t of.Type) bool {
	if r != Slave {
		return true
	}

	return !mutatingTypes[t]
}

// ErrIsSlave is the wire error produced when Check rejects a message.
func ErrIsSlave(offending []byte) *ofperror.Error {
	return ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestIsSlave, offending)
}

// FromControllerRole converts the wire-level ControllerRole carried
// by a ROLE_REQUEST into a Role, reporting ok=false for NOCHANGE
// (the caller should keep the channel's current role in that case).
func FromControllerRole(cr ofp.ControllerRole) (r Role, ok bool) {
	switch cr {
	case ofp.ControllerRoleEqual:
		return Equal, true
	case ofp.ControllerRoleMaster:
		return Master, true
	case ofp.ControllerRoleSlave:
		return Slave, true
	default:
		return Equal, false
	}
}

// ToControllerRole converts a Role back to its wire representation,
// used when replying to ROLE_REQUEST/GET_ASYNC with the current role.
func ToControllerRole(r Role) ofp.ControllerRole {
	switch r {
	case Master:
		return ofp.ControllerRoleMaster
	case Slave:
		return ofp.ControllerRoleSlave
	default:
		return ofp.ControllerRoleEqual
	}
}

// Member is the minimal surface a channel-list entry must expose for
// master-election bookkeeping.
type Member interface {
	Role() Role
	SetRole(Role)
}

// Promote sets target's role to Master and atomically demotes every
// other Master sharing the same list to Slave. Callers must hold
// whatever lock guards the list for the duration of the call.
func Promote(members []Member, target Member) {
	for _, m := range members {
		if m == target {
			continue
		}

		if m.Role() == Master {
			m.SetRole(Slave)
		}
	}

	target.SetRole(Master)
}
