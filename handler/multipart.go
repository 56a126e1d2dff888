package handler

import (
	"bytes"
	"context"
	"io"
	"math"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// multipartBody concatenates a MultipartReply header with zero or
// more body elements, each already implementing io.WriterTo, into a
// single wire-ready message.
type multipartBody struct {
	reply ofp.MultipartReply
	items []io.WriterTo
}

func (m *multipartBody) WriteTo(w io.Writer) (int64, error) {
	n, err := m.reply.WriteTo(w)
	if err != nil {
		return n, err
	}

	for _, item := range m.items {
		nn, err := item.WriteTo(w)
		n += nn
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// maxFragmentBody is the most item bytes a single multipart fragment
// may carry: the OFPT_MULTIPART_REPLY message's own length field is a
// uint16 counting the 8-byte OpenFlow header, the 8-byte multipart
// header, and the body together.
const maxFragmentBody = math.MaxUint16 - 8 - 8

// Fragments implements handler.MultiReply. Items are packed into
// fragments in order, each kept at or under maxFragmentBody bytes;
// every fragment but the last carries OFPMPF_REPLY_MORE. A single
// item larger than maxFragmentBody still goes out alone, oversized,
// since OFPMP_* stats entries are not themselves splittable.
func (m *multipartBody) Fragments() ([]io.WriterTo, error) {
	var chunks [][]byte
	var cur bytes.Buffer

	for _, item := range m.items {
		var buf bytes.Buffer
		if _, err := item.WriteTo(&buf); err != nil {
			return nil, err
		}

		if cur.Len() > 0 && cur.Len()+buf.Len() > maxFragmentBody {
			chunks = append(chunks, cur.Bytes())
			cur = bytes.Buffer{}
		}
		cur.Write(buf.Bytes())
	}
	chunks = append(chunks, cur.Bytes())

	fragments := make([]io.WriterTo, len(chunks))
	for i, chunk := range chunks {
		flags := m.reply.Flags
		if i < len(chunks)-1 {
			flags |= ofp.MultipartReplyMode
		}
		fragments[i] = &multipartFragment{
			reply: ofp.MultipartReply{Type: m.reply.Type, Flags: flags},
			body:  chunk,
		}
	}
	return fragments, nil
}

// multipartFragment is one already-serialized slice of a split
// multipart reply, carrying its own header with OFPMPF_REPLY_MORE set
// as appropriate.
type multipartFragment struct {
	reply ofp.MultipartReply
	body  []byte
}

func (f *multipartFragment) WriteTo(w io.Writer) (int64, error) {
	n, err := f.reply.WriteTo(w)
	if err != nil {
		return n, err
	}
	nn, err := w.Write(f.body)
	return n + int64(nn), err
}

func multipartReply(t ofp.MultipartType, items []io.WriterTo) *Result {
	return &Result{
		ReplyType: of.TypeMultipartReply,
		Reply: &multipartBody{
			reply: ofp.MultipartReply{Type: t},
			items: items,
		},
	}
}

// MultipartRequest decodes the OFPMP_* envelope and dispatches to the
// datapath's StatsProvider for the requested sub-type.
func MultipartRequest(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var mp ofp.MultipartRequest
	if _, rerr := mp.ReadFrom(req.Body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	switch mp.Type {
	case ofp.MultipartTypeDescription:
		return multipartDescription(ctx, hc)
	case ofp.MultipartTypeFlow:
		return multipartFlow(ctx, hc, mp.Body)
	case ofp.MultipartTypeAggregate:
		return multipartAggregate(ctx, hc, mp.Body)
	case ofp.MultipartTypeTable:
		return multipartTable(ctx, hc)
	case ofp.MultipartTypeTableFeatures:
		return multipartTableFeatures(ctx, hc)
	case ofp.MultipartTypePortStats:
		return multipartPortStats(ctx, hc, mp.Body)
	case ofp.MultipartTypePortDescription:
		return multipartPortDescription(ctx, hc)
	case ofp.MultipartTypeQueue:
		return multipartQueueStats(ctx, hc, mp.Body)
	case ofp.MultipartTypeGroup:
		return multipartGroupStats(ctx, hc, mp.Body)
	case ofp.MultipartTypeGroupDescription:
		return multipartGroupDesc(ctx, hc)
	case ofp.MultipartTypeGroupFeatures:
		return multipartGroupFeatures(ctx, hc)
	case ofp.MultipartTypeMeter:
		return multipartMeterStats(ctx, hc, mp.Body)
	case ofp.MultipartTypeMeterConfig:
		return multipartMeterConfig(ctx, hc, mp.Body)
	case ofp.MultipartTypeMeterFeatures:
		return multipartMeterFeatures(ctx, hc)
	default:
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBadMultipart, offending(req))
	}
}

func multipartDescription(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	desc, err := hc.Switch.Description(ctx)
	if err != nil {
		return nil, err
	}
	return multipartReply(ofp.MultipartTypeDescription, []io.WriterTo{desc}), nil
}

func multipartFlow(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var freq ofp.FlowStatsRequest
	if _, rerr := freq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	stats, err := hc.Switch.FlowStats(ctx, &freq)
	if err != nil {
		return nil, err
	}
	return multipartReply(ofp.MultipartTypeFlow, flowStatsList(stats)), nil
}

func flowStatsList(stats []ofp.FlowStats) []io.WriterTo {
	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return items
}

func multipartAggregate(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var areq ofp.AggregateStatsRequest
	if _, rerr := areq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	stats, err := hc.Switch.AggregateStats(ctx, &areq)
	if err != nil {
		return nil, err
	}
	return multipartReply(ofp.MultipartTypeAggregate, []io.WriterTo{stats}), nil
}

func multipartTable(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	stats, err := hc.Switch.TableStats(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return multipartReply(ofp.MultipartTypeTable, items), nil
}

func multipartTableFeatures(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	feats, err := hc.Switch.TableFeatures(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(feats))
	for i := range feats {
		items[i] = &feats[i]
	}
	return multipartReply(ofp.MultipartTypeTableFeatures, items), nil
}

func multipartPortStats(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var preq ofp.PortStatsRequest
	if _, rerr := preq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	stats, err := hc.Switch.PortStats(ctx, &preq)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return multipartReply(ofp.MultipartTypePortStats, items), nil
}

func multipartPortDescription(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	ports, err := hc.Switch.PortDescribe(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(ports))
	for i := range ports {
		items[i] = &ports[i]
	}
	return multipartReply(ofp.MultipartTypePortDescription, items), nil
}

func multipartQueueStats(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var qreq ofp.QueueStatsRequest
	if _, rerr := qreq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	stats, err := hc.Switch.QueueStats(ctx, &qreq)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return multipartReply(ofp.MultipartTypeQueue, items), nil
}

func multipartGroupStats(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var greq ofp.GroupStatsRequest
	if _, rerr := greq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	stats, err := hc.Switch.GroupStats(ctx, &greq)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return multipartReply(ofp.MultipartTypeGroup, items), nil
}

func multipartGroupDesc(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	stats, err := hc.Switch.GroupDesc(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return multipartReply(ofp.MultipartTypeGroupDescription, items), nil
}

func multipartGroupFeatures(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	feats, err := hc.Switch.GroupFeatures(ctx)
	if err != nil {
		return nil, err
	}
	return multipartReply(ofp.MultipartTypeGroupFeatures, []io.WriterTo{feats}), nil
}

func multipartMeterStats(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var mreq ofp.MeterStatsRequest
	if _, rerr := mreq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	stats, err := hc.Switch.MeterStats(ctx, &mreq)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(stats))
	for i := range stats {
		items[i] = &stats[i]
	}
	return multipartReply(ofp.MultipartTypeMeter, items), nil
}

func multipartMeterConfig(ctx context.Context, hc *Context, body io.Reader) (*Result, *ofperror.Error) {
	var mreq ofp.MeterConfigRequest
	if _, rerr := mreq.ReadFrom(body); rerr != nil {
		return nil, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, nil)
	}

	cfg, err := hc.Switch.MeterConfig(ctx, &mreq)
	if err != nil {
		return nil, err
	}

	items := make([]io.WriterTo, len(cfg))
	for i := range cfg {
		items[i] = &cfg[i]
	}
	return multipartReply(ofp.MultipartTypeMeterConfig, items), nil
}

func multipartMeterFeatures(ctx context.Context, hc *Context) (*Result, *ofperror.Error) {
	feats, err := hc.Switch.MeterFeatures(ctx)
	if err != nil {
		return nil, err
	}
	return multipartReply(ofp.MultipartTypeMeterFeatures, []io.WriterTo{feats}), nil
}
