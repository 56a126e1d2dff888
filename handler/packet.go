package handler

import (
	"context"
	"io/ioutil"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// PacketOut parses the action list, determines the payload per the
// buffer-id rules, and forwards both to the datapath.
func PacketOut(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	body, rerr := ioutil.ReadAll(req.Body)
	if rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	rd := newBodyReader(body)

	var msg ofp.PacketOut
	if _, err := msg.ReadFrom(rd); err != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, truncate(body))
	}

	// Whatever ReadFrom left unconsumed in rd is the raw packet data
	// following the header and action list.
	payload := rd.b

	if msg.Buffer != ofp.NoBuffer && len(payload) > 0 {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBufferUnknown, truncate(body))
	}
	if msg.Buffer != ofp.NoBuffer {
		payload = nil
	}

	if err := hc.Switch.PacketOut(ctx, &msg, payload); err != nil {
		return nil, err
	}
	return nil, nil
}
