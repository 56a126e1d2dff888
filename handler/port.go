package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// PortMod forwards a port configuration change to the datapath after
// structural decode; the datapath itself validates the port number.
func PortMod(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var mod ofp.PortMod
	if err := decode(req, &mod); err != nil {
		return nil, err
	}

	if err := hc.Switch.PortModify(ctx, &mod); err != nil {
		return nil, err
	}
	return nil, nil
}

// TableMod validates the table configuration value and forwards it
// to the datapath.
func TableMod(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var mod ofp.TableMod
	if err := decode(req, &mod); err != nil {
		return nil, err
	}

	if mod.Config&^ofp.TableConfigDeprecatedMask != 0 {
		return nil, ofperror.OFP(ofp.ErrTypeTableModFailed, ofp.ErrCodeTableModFailedBadConfig, offending(req))
	}

	if err := hc.Switch.TableModify(ctx, &mod); err != nil {
		return nil, err
	}
	return nil, nil
}
