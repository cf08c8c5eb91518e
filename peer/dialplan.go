package peer

// whiteListConnectionsPercent is the share of the target connection
// count reserved for white-list (previously handshaked) peers before
// the gray list is drawn from, mirroring
// P2P_DEFAULT_WHITELIST_CONNECTIONS_PERCENT.
const whiteListConnectionsPercent = 70

// expectedWhiteConnections returns how many of connectionsCount slots
// should be filled from the white list before falling back to gray.
func expectedWhiteConnections(connectionsCount int) int {
	return (connectionsCount * whiteListConnectionsPercent) / 100
}

// NextDialAddress picks the next address to attempt an outbound
// connection to, given how many connections are already established out
// of the target connectionsCount. Priority addresses are exhausted
// first (regardless of list state), then white until
// expectedWhiteConnections is reached, then gray. It returns false once
// nothing is left to dial or the book is in exclusive-peer mode and the
// priority set is already exhausted.
func (b *AddressBook) NextDialAddress(currentConnections, connectionsCount int, dialedPriority map[[4]byte]bool) (NetAddr, bool) {
	for _, addr := range b.Priority() {
		if !dialedPriority[addr.IP] {
			return addr, true
		}
	}
	if b.Exclusive() {
		return NetAddr{}, false
	}

	if currentConnections < expectedWhiteConnections(connectionsCount) {
		if addr, ok := b.RandomWhite(); ok {
			return addr, true
		}
	}
	if addr, ok := b.RandomGray(); ok {
		return addr, true
	}
	if addr, ok := b.RandomWhite(); ok {
		return addr, true
	}
	return NetAddr{}, false
}
