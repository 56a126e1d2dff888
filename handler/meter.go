package handler

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

func meterIDValid(m ofp.Meter) bool {
	switch m {
	case ofp.MeterController, ofp.MeterSlowpath, ofp.MeterAll:
		return true
	}
	return m >= 1 && m <= ofp.MeterMax
}

func bandTypeValid(band ofp.MeterBand) bool {
	switch band.Type() {
	case ofp.MeterBandTypeDrop, ofp.MeterBandTypeDSCPRemark:
		return true
	}
	return false
}

// meterFlagMask covers every MeterFlag bit this implementation
// understands; any other bit set in a MeterMod's Flags is rejected.
const meterFlagMask = ofp.MeterFlagKBitPerSec | ofp.MeterFlagPacketPerSec |
	ofp.MeterFlagBurst | ofp.MeterFlagStats

// MeterMod validates the command, flags, meter-id range and band
// types before delegating to the datapath.
func MeterMod(ctx context.Context, hc *Context, req *of.Request) (*Result, *ofperror.Error) {
	var mod ofp.MeterMod
	if err := decode(req, &mod); err != nil {
		return nil, err
	}

	if mod.Flags&^meterFlagMask != 0 {
		return nil, ofperror.OFP(ofp.ErrTypeMeterModFailed, ofp.ErrCodeMeterModFailedBadFlags, offending(req))
	}

	if !meterIDValid(mod.Meter) {
		return nil, ofperror.OFP(ofp.ErrTypeMeterModFailed, ofp.ErrCodeMeterModFailedInvalidMeter, offending(req))
	}

	for _, band := range mod.Bands {
		if !bandTypeValid(band) {
			return nil, ofperror.OFP(ofp.ErrTypeMeterModFailed, ofp.ErrCodeMeterModFailedBadBand, offending(req))
		}
	}

	switch mod.Command {
	case ofp.MeterAdd:
		if err := hc.Switch.MeterAdd(ctx, &mod); err != nil {
			return nil, err
		}
	case ofp.MeterModify:
		if err := hc.Switch.MeterModify(ctx, &mod); err != nil {
			return nil, err
		}
	case ofp.MeterDelete:
		if err := hc.Switch.MeterDelete(ctx, &mod); err != nil {
			return nil, err
		}
	default:
		return nil, ofperror.OFP(ofp.ErrTypeMeterModFailed, ofp.ErrCodeMeterModFailedBadCommand, offending(req))
	}

	return nil, nil
}
