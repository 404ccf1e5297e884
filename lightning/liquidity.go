package lightning

import (
	"github.com/lightningnetwork/lnd/lnwire"
)

// AvailableInbound sums the inbound capacity of ready channels.
func AvailableInbound(snapshot ChannelSnapshot) lnwire.MilliSatoshi {
	var total lnwire.MilliSatoshi
	for i := range snapshot {
		if snapshot[i].Ready {
			total += snapshot[i].InboundMsat
		}
	}

	return total
}
