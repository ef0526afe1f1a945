package runmode

import "github.com/mash-protocol/runmode-go/pkg/clock"

// modeState is the bookkeeping owned by the active mode. Exactly one
// variant exists at a time; it is replaced whenever the mode changes.
type modeState interface {
	mode() Mode
}

// onlineState is the bookkeeping of ONLINE.
type onlineState struct {
	enteredAt     clock.Timestamp
	failures      int
	resyncPending bool
	lastExchange  clock.Timestamp
	exchanges     uint64
	lastErr       error
}

func (*onlineState) mode() Mode { return ModeOnline }

// offlineState is the bookkeeping of OFFLINE.
type offlineState struct {
	enteredAt     clock.Timestamp
	probeAttempts int
	nextProbeAt   clock.Timestamp
	armed         bool
	lastErr       error
}

func (*offlineState) mode() Mode { return ModeOffline }

// freshState returns empty bookkeeping for m.
func freshState(m Mode) modeState {
	if m == ModeOnline {
		return &onlineState{}
	}
	return &offlineState{}
}

// OnlineStatus is a copy of the ONLINE bookkeeping.
type OnlineStatus struct {
	EnteredAt     clock.Timestamp
	Failures      int
	ResyncPending bool
	LastExchange  clock.Timestamp
	Exchanges     uint64
	LastError     string
}

// OfflineStatus is a copy of the OFFLINE bookkeeping.
type OfflineStatus struct {
	EnteredAt     clock.Timestamp
	ProbeAttempts int
	NextProbeAt   clock.Timestamp
	LastError     string
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
