package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// flowModFlagMask covers every FlowModFlag bit this implementation
// understands; any other bit set in a FlowMod's Flags is rejected.
const flowModFlagMask = ofp.FlowFlagSendFlowRem | ofp.FlowFlagCheckOverlap |
	ofp.FlowFlagResetCounts | ofp.FlowFlagNoPktCounts | ofp.FlowFlagNoByteCounts

// FlowMod validates the modification command and flags, then
// delegates the table mutation to the datapath. No reply is sent on
// success.
func FlowMod(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var mod ofp.FlowMod
	if err := decode(req, &mod); err != nil {
		return nil, err
	}

	if mod.Flags&^flowModFlagMask != 0 {
		return nil, ofperror.OFP(ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedBadFlags, offending(req))
	}

	switch mod.Command {
	case ofp.FlowAdd:
		if err := hc.Switch.FlowAdd(ctx, &mod); err != nil {
			return nil, err
		}
	case ofp.FlowModify, ofp.FlowModifyStrict:
		if err := hc.Switch.FlowModify(ctx, &mod, mod.Command == ofp.FlowModifyStrict); err != nil {
			return nil, err
		}
	case ofp.FlowDelete, ofp.FlowDeleteStrict:
		if err := hc.Switch.FlowDelete(ctx, &mod, mod.Command == ofp.FlowDeleteStrict); err != nil {
			return nil, err
		}
	default:
		return nil, ofperror.OFP(ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedBadCommand, offending(req))
	}

	return nil, nil
}
