// Package handler implements the per-OFPT_* message handlers invoked
// by the dispatch loop: one function per type, each validating its
// request, consulting the datapath, and producing either a wire
// reply or a protocol error.
package handler

import (
	"context"
	"io"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/bridgequeue"
	"github.com/netrack/ofagent/channel"
	"github.com/netrack/ofagent/channelmgr"
	"github.com/netrack/ofagent/datapath"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// Context carries everything a handler needs beyond the request
// itself: the originating channel, its channel-list (for role and
// generation-id state), the datapath it is attached to, and that
// datapath's bridge queues for event emission.
type Context struct {
	Channel *channel.Channel
	List    *channelmgr.List
	Switch  datapath.Switch
	Bridge  *bridgequeue.Entry
}

// Result is what a handler produces: at most one wire reply sharing
// the request's xid. Event is carried alongside it, but the dispatch
// loop does not read it and no handler in this package sets it, so
// nothing reaches the bridge's event-data queue through a Result.
type Result struct {
	ReplyType of.Type
	Reply     io.WriterTo

	Event *datapath.Event
}

// MultiReply is implemented by a Result.Reply that may need to be
// split into more than one wire message sharing the same xid, such as
// a multipart reply spanning more than one pbuf. The dispatch loop
// checks for it before encoding a reply.
type MultiReply interface {
	Fragments() ([]io.WriterTo, error)
}

// Func is the uniform handler shape: validate req, consult hc, return
// a Result or a protocol error. Pre-checks already performed by the
// dispatch loop before a Func is invoked: header decoded, full length
// present, version accepted, role accepted.
type Func func(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error)

// Registry maps OFPT_* types to their handler. Types absent from the
// registry are handled by Unsupported.
type Registry map[of.Type]Func

// NewRegistry returns the full catalogue of per-message handlers
// defined by this package.
func NewRegistry() Registry {
	return Registry{
		of.TypeHello:                 Hello,
		of.TypeFeaturesRequest:       FeaturesRequest,
		of.TypeGetConfigRequest:      GetConfigRequest,
		of.TypeSetConfig:             SetConfig,
		of.TypeEchoRequest:           EchoRequest,
		of.TypeFlowMod:               FlowMod,
		of.TypeGroupMod:              GroupMod,
		of.TypeMeterMod:              MeterMod,
		of.TypePacketOut:             PacketOut,
		of.TypePortMod:               PortMod,
		of.TypeTableMod:              TableMod,
		of.TypeMultipartRequest:      MultipartRequest,
		of.TypeBarrierRequest:        BarrierRequest,
		of.TypeRoleRequest:           RoleRequest,
		of.TypeQueueGetConfigRequest: QueueGetConfigRequest,
		of.TypeAsynchRequest:         GetAsyncRequest,
		of.TypeSetAsync:              SetAsync,
	}
}

// Dispatch looks up the handler for req's type and invokes it,
// falling back to Unsupported for anything not in the registry.
func (reg Registry) Dispatch(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	fn, ok := reg[req.Header.Type]
	if !ok {
		return Unsupported(ctx, hc, req)
	}
	return fn(ctx, hc, req)
}

// Unsupported handles any OFPT_* the registry does not recognize,
// including messages that are wrong-direction for a switch to
// receive (FEATURES_REPLY, PACKET_IN, PORT_STATUS, FLOW_REMOVED).
func Unsupported(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBadType, offending(req))
}
