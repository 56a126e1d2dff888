package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
	"github.com/netrack/ofagent/role"
)

// RoleRequest applies a role transition per the generation-id guard
// and channel-list promotion rules, replying with the resulting role
// and stored generation-id.
func RoleRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var rr ofp.RoleRequest
	if err := decode(req, &rr); err != nil {
		return nil, err
	}

	newRole, changing := role.FromControllerRole(rr.Role)
	if changing && newRole != role.Equal {
		if err := hc.List.Generation().CheckAndSet(rr.GenerationID); err != nil {
			return nil, err
		}
	}

	if changing {
		if newRole == role.Master {
			hc.List.Promote(hc.Channel)
		} else {
			hc.Channel.SetRole(newRole)
		}
	}

	gen, _ := hc.List.Generation().Get()
	reply := &ofp.RoleRequest{
		Role:         role.ToControllerRole(hc.Channel.Role()),
		GenerationID: gen,
	}
	return &Result{ReplyType: of.TypeRoleReply, Reply: reply}, nil
}
