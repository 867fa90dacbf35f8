package nnrt

import "github.com/behrlich/rpmsg-nnrt/internal/constants"

// Re-exported limits and timeouts, part of the public API surface.
const (
	BufferMax              = constants.BufferMax
	FDMax                  = constants.FDMax
	PMUEventMax            = constants.PMUEventMax
	PMUMax                 = constants.PMUMax
	SendTimeout            = constants.SendTimeout
	VersionTimeout         = constants.VersionTimeout
	CapabilitiesTimeout    = constants.CapabilitiesTimeout
	CancelInferenceTimeout = constants.CancelInferenceTimeout
	NetworkInfoTimeout     = constants.NetworkInfoTimeout
)
