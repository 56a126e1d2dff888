package dispatch

import (
	"io"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/datapath"
	"github.com/netrack/ofagent/role"
)

// eventMessage maps a datapath.Event onto the OFPT_* type, wire body,
// async-mask kind and reason bit used to filter and encode it.
func eventMessage(ev *datapath.Event) (typ of.Type, body io.WriterTo, kind role.AsyncKind, reason uint8, ok bool) {
	switch ev.Kind {
	case datapath.EventPacketIn:
		if ev.PacketIn == nil {
			return 0, nil, 0, 0, false
		}
		return of.TypePacketIn, ev.PacketIn, role.AsyncPacketIn, uint8(ev.PacketIn.Reason), true
	case datapath.EventPortStatus:
		if ev.PortStatus == nil {
			return 0, nil, 0, 0, false
		}
		return of.TypePortStatus, ev.PortStatus, role.AsyncPortStatus, uint8(ev.PortStatus.Reason), true
	case datapath.EventFlowRemoved:
		if ev.FlowRemoved == nil {
			return 0, nil, 0, 0, false
		}
		return of.TypeFlowRemoved, ev.FlowRemoved, role.AsyncFlowRemoved, uint8(ev.FlowRemoved.Reason), true
	default:
		return 0, nil, 0, 0, false
	}
}
