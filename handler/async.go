package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
	"github.com/netrack/ofagent/role"
)

// GetAsyncRequest has no body; it replies with the channel's current
// asynchronous-event masks.
func GetAsyncRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	mask := hc.Channel.AsyncMask()
	reply := &ofp.AsyncConfig{
		PacketInMask:    mask.Get(role.AsyncPacketIn),
		PortStatusMask:  mask.Get(role.AsyncPortStatus),
		FlowRemovedMask: mask.Get(role.AsyncFlowRemoved),
	}
	return &Result{ReplyType: of.TypeAsyncReply, Reply: reply}, nil
}

// SetAsync replaces the channel's asynchronous-event masks. It has no
// reply.
func SetAsync(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var cfg ofp.AsyncConfig
	if err := decode(req, &cfg); err != nil {
		return nil, err
	}

	mask := hc.Channel.AsyncMask()
	mask.Set(role.AsyncPacketIn, cfg.PacketInMask)
	mask.Set(role.AsyncPortStatus, cfg.PortStatusMask)
	mask.Set(role.AsyncFlowRemoved, cfg.FlowRemovedMask)
	return nil, nil
}
