package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// maxGroupType is the last defined GroupType; anything beyond it is
// rejected as OFPGMFC_BAD_TYPE.
const maxGroupType = ofp.GroupTypeFastFailover

// GroupMod validates the command and group type, then delegates to
// the datapath. Group-reference loops are detected by the datapath
// during install and surfaced as OFPGMFC_LOOP.
func GroupMod(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var mod ofp.GroupMod
	if err := decode(req, &mod); err != nil {
		return nil, err
	}

	if mod.Type > maxGroupType {
		return nil, ofperror.OFP(ofp.ErrTypeGroupModFailed, ofp.ErrCodeGroupModBadType, offending(req))
	}

	switch mod.Command {
	case ofp.GroupAdd:
		if err := hc.Switch.GroupAdd(ctx, &mod); err != nil {
			return nil, err
		}
	case ofp.GroupModify:
		if err := hc.Switch.GroupModify(ctx, &mod); err != nil {
			return nil, err
		}
	case ofp.GroupDelete:
		if err := hc.Switch.GroupDelete(ctx, &mod); err != nil {
			return nil, err
		}
	default:
		return nil, ofperror.OFP(ofp.ErrTypeGroupModFailed, ofp.ErrCodeGroupModBadCommand, offending(req))
	}

	return nil, nil
}
