package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// supportedVersion is the only OpenFlow wire version this agent
// negotiates; HELLO version bitmaps are intersected against it alone.
const supportedVersion = 0x04

// cmlMax is OFPCML_MAX: the largest miss_send_len accepted by
// SET_CONFIG other than the "no buffer" sentinel.
const cmlMax = 0xffe5

// cmlNoBuffer is OFPCML_NO_BUFFER.
const cmlNoBuffer = 0xffff

// Hello intersects the controller's supported-version bitmap with
// this agent's single supported version. An empty intersection fails
// the handshake; otherwise the channel's version is set and, if this
// is the first HELLO seen, a HELLO is echoed back.
func Hello(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var hello ofp.Hello
	if err := decode(req, &hello); err != nil {
		return nil, err
	}

	if !versionSupported(hello.Elements, supportedVersion) {
		return nil, ofperror.OFP(ofp.ErrTypeHelloFailed, ofp.ErrCodeHelloFailedIncompatible, offending(req))
	}

	hc.Channel.SetVersion(supportedVersion)

	if hc.Channel.HelloReceived() {
		return nil, nil
	}
	hc.Channel.SetHelloReceived(true)

	reply := &ofp.Hello{Elements: ofp.HelloElems{
		&ofp.HelloElemVersionBitmap{Bitmaps: []uint32{1 << supportedVersion}},
	}}
	return &Result{ReplyType: of.TypeHello, Reply: reply}, nil
}

func versionSupported(elems ofp.HelloElems, version uint32) bool {
	if len(elems) == 0 {
		return true // no bitmap: legacy single-version negotiation always matches
	}

	for _, elem := range elems {
		bitmap, ok := elem.(*ofp.HelloElemVersionBitmap)
		if !ok {
			continue
		}
		word := version / 32
		bit := version % 32
		if int(word) < len(bitmap.Bitmaps) && bitmap.Bitmaps[word]&(1<<bit) != 0 {
			return true
		}
	}
	return false
}

// FeaturesRequest fetches the datapath's descriptor and replies with
// FEATURES_REPLY.
func FeaturesRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	features, err := hc.Switch.Features(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{ReplyType: of.TypeFeaturesReply, Reply: features}, nil
}

// GetConfigRequest replies with the datapath's miss-send-length and
// fragmentation-handling flags.
func GetConfigRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	cfg, err := hc.Switch.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{ReplyType: of.TypeGetConfigReply, Reply: cfg}, nil
}

// SetConfig validates the requested flags and miss-send-length before
// forwarding the change to the datapath. SET_CONFIG has no reply.
func SetConfig(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var cfg ofp.SwitchConfig
	if err := decode(req, &cfg); err != nil {
		return nil, err
	}

	if cfg.Flags > ofp.ConfigFlagFragMask {
		return nil, ofperror.OFP(ofp.ErrTypeSwitchConfigFailed, ofp.ErrCodeSwitchConfigFailedBadFlags, offending(req))
	}
	if cfg.MissSendLength > cmlMax && cfg.MissSendLength != cmlNoBuffer {
		return nil, ofperror.OFP(ofp.ErrTypeSwitchConfigFailed, ofp.ErrCodeSwitchConfigFailedBadLen, offending(req))
	}

	if err := hc.Switch.SetConfig(ctx, &cfg); err != nil {
		return nil, err
	}
	return nil, nil
}

// EchoRequest copies the request payload verbatim into an
// ECHO_REPLY.
func EchoRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	echo := &ofp.EchoRequest{}
	if err := decode(req, echo); err != nil {
		return nil, err
	}

	hc.Channel.Touch()
	return &Result{ReplyType: of.TypeEchoReply, Reply: &ofp.EchoReply{Data: echo.Data}}, nil
}
