// Package datapath declares the narrow set of request/response
// contracts the handler core uses to reach the switch's forwarding
// plane. The datapath itself (flow tables, group/meter engines,
// packet forwarding) is an external collaborator; this package never
// implements one, only the interfaces a handler needs to call one.
package datapath

import (
	"context"

	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// Switch is the per-datapath collaborator a handler dispatches to. It
// groups the narrower per-concern interfaces below so a concrete
// datapath implementation can be passed around as one value.
type Switch interface {
	FlowTable
	GroupTable
	MeterTable
	PortAdmin
	TableAdmin
	StatsProvider
	PacketSink
	Features
	ConfigProvider
}

// ConfigProvider answers GET_CONFIG_REQUEST and applies SET_CONFIG,
// per spec.md's switch-configuration messages.
type ConfigProvider interface {
	GetConfig(ctx context.Context) (*ofp.SwitchConfig, *ofperror.Error)
	SetConfig(ctx context.Context, cfg *ofp.SwitchConfig) *ofperror.Error
}

// FlowTable installs, updates and removes flow entries, per
// FLOW_MOD's ADD/MODIFY/MODIFY_STRICT/DELETE/DELETE_STRICT commands.
type FlowTable interface {
	FlowAdd(ctx context.Context, mod *ofp.FlowMod) *ofperror.Error
	FlowModify(ctx context.Context, mod *ofp.FlowMod, strict bool) *ofperror.Error
	FlowDelete(ctx context.Context, mod *ofp.FlowMod, strict bool) *ofperror.Error
}

// GroupTable installs, updates and removes group entries, per
// GROUP_MOD's ADD/MODIFY/DELETE commands. GroupAdd/GroupModify report
// ofperror.OFP(ofp.ErrTypeGroupModFailed, ofp.ErrCodeGroupModFailedLoop, ...)
// when a bucket would introduce a group-reference cycle.
type GroupTable interface {
	GroupAdd(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error
	GroupModify(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error
	GroupDelete(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error
}

// MeterTable installs, updates and removes meters, per METER_MOD's
// ADD/MODIFY/DELETE commands.
type MeterTable interface {
	MeterAdd(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error
	MeterModify(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error
	MeterDelete(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error
}

// PortAdmin applies PORT_MOD changes and describes ports for
// FEATURES_REPLY and MultipartTypePortDescription.
type PortAdmin interface {
	PortModify(ctx context.Context, mod *ofp.PortMod) *ofperror.Error
	PortDescribe(ctx context.Context) ([]ofp.Port, *ofperror.Error)
}

// TableAdmin applies TABLE_MOD configuration changes.
type TableAdmin interface {
	TableModify(ctx context.Context, mod *ofp.TableMod) *ofperror.Error
}

// Features answers a FEATURES_REQUEST.
type Features interface {
	Features(ctx context.Context) (*ofp.SwitchFeatures, *ofperror.Error)
}

// StatsProvider answers every MULTIPART_REQUEST sub-type over stats
// and descriptions the handler core does not itself maintain.
type StatsProvider interface {
	Description(ctx context.Context) (*ofp.Description, *ofperror.Error)
	FlowStats(ctx context.Context, req *ofp.FlowStatsRequest) ([]ofp.FlowStats, *ofperror.Error)
	AggregateStats(ctx context.Context, req *ofp.AggregateStatsRequest) (*ofp.AggregateStats, *ofperror.Error)
	TableStats(ctx context.Context) ([]ofp.TableStats, *ofperror.Error)
	TableFeatures(ctx context.Context) ([]ofp.TableFeatures, *ofperror.Error)
	PortStats(ctx context.Context, req *ofp.PortStatsRequest) ([]ofp.PortStats, *ofperror.Error)
	QueueStats(ctx context.Context, req *ofp.QueueStatsRequest) ([]ofp.QueueStats, *ofperror.Error)
	QueueConfig(ctx context.Context, req *ofp.QueueGetConfigRequest) (*ofp.QueueGetConfigReply, *ofperror.Error)
	GroupStats(ctx context.Context, req *ofp.GroupStatsRequest) ([]ofp.GroupStats, *ofperror.Error)
	GroupDesc(ctx context.Context) ([]ofp.GroupDescStats, *ofperror.Error)
	GroupFeatures(ctx context.Context) (*ofp.GroupFeatures, *ofperror.Error)
	MeterStats(ctx context.Context, req *ofp.MeterStatsRequest) ([]ofp.MeterStats, *ofperror.Error)
	MeterConfig(ctx context.Context, req *ofp.MeterConfigRequest) ([]ofp.MeterConfig, *ofperror.Error)
	MeterFeatures(ctx context.Context) (*ofp.MeterFeatures, *ofperror.Error)
}

// PacketSink accepts PACKET_OUT payloads for forwarding and BARRIER
// markers for ordering guarantees against prior FLOW_MOD/GROUP_MOD/
// METER_MOD calls.
type PacketSink interface {
	PacketOut(ctx context.Context, msg *ofp.PacketOut, payload []byte) *ofperror.Error
	Barrier(ctx context.Context) *ofperror.Error
}

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventPacketIn EventKind = iota
	EventPortStatus
	EventFlowRemoved
)

// Event is a typed, wire-ready notification the datapath pushes
// upward onto a bridge's event queue for the dispatch loop to
// role/async-mask filter and fan out to controllers.
type Event struct {
	Kind EventKind
	Dpid uint64

	PacketIn     *ofp.PacketIn
	PortStatus   *ofp.PortStatus
	FlowRemoved  *ofp.FlowRemoved
}

// EventSink is implemented by whatever forwards datapath-originated
// events into the agent core (typically bridgequeue.Entry.PutEvent).
type EventSink interface {
	PushEvent(ctx context.Context, ev Event) error
}
