package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// QueueGetConfigRequest validates the requested port and forwards to
// the datapath's queue configuration.
func QueueGetConfigRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var qreq ofp.QueueGetConfigRequest
	if err := decode(req, &qreq); err != nil {
		return nil, err
	}

	if qreq.Port > ofp.PortMax && qreq.Port != ofp.PortAny {
		return nil, ofperror.OFP(ofp.ErrTypeQueueOpFailed, ofp.ErrCodeQueueOpFailedBadPort, offending(req))
	}

	reply, err := hc.Switch.QueueConfig(ctx, &qreq)
	if err != nil {
		return nil, err
	}
	return &Result{ReplyType: of.TypeQueueGetConfigReply, Reply: reply}, nil
}
