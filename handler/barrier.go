package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofperror"
)

// BarrierRequest blocks on the datapath's Barrier call, which is
// expected to return only once every FLOW_MOD/GROUP_MOD/METER_MOD/
// PACKET_OUT it previously accepted has completed. Since the dispatch
// loop is the only goroutine invoking handlers, ordering with respect
// to prior messages on this channel is already guaranteed by the time
// Barrier returns, so BARRIER_REPLY is sent directly rather than
// round-tripping through the bridge event queue.
func BarrierRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	if err := hc.Switch.Barrier(ctx); err != nil {
		return nil, err
	}
	return &Result{ReplyType: of.TypeBarrierReply}, nil
}
