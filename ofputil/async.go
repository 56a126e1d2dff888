package ofputil

// AsyncConfigMask returns the asynchronous configuration
// mask as a conjunction of master/equal and slave bitmaps, in the
// layout ofp.AsyncConfig expects for each of its three masks.
func AsyncConfigMask(masterOrEqual, slave uint32) [2]uint32 {
	return [2]uint32{masterOrEqual, slave}
}
