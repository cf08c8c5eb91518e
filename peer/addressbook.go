// Package peer implements the peer manager and transport (addresses,
// connection policy, and the Levin-style framed wire protocol) that
// drives a protocol.Context for each live connection.
package peer

import (
	"math/rand"
	"sync"
)

// NetAddr is the advertised (IP, port) pair an address book entry
// tracks. IP is kept as a fixed 4-byte array so it can key a map
// directly, mirroring addressmanager.AddressKey.
type NetAddr struct {
	IP       [4]byte
	Port     uint16
	LastSeen uint64
}

// AddressBook maintains the three peer lists the connection manager
// draws on: white (peers this node has itself connected to and
// handshaked with successfully), gray (peers only ever advertised by
// someone else), and priority/exclusive (operator-supplied addresses
// that bypass the random selection policy entirely). Locking follows
// addressmanager.AddressManager's single-mutex idiom.
type AddressBook struct {
	mu sync.Mutex

	white []NetAddr
	gray  []NetAddr

	whiteIndex map[[4]byte]int
	grayIndex  map[[4]byte]int

	priority  []NetAddr
	exclusive bool
}

// NewAddressBook returns an empty address book. If exclusive is true,
// the connection manager never draws from white/gray at random and only
// ever dials the priority set.
func NewAddressBook(priority []NetAddr, exclusive bool) *AddressBook {
	return &AddressBook{
		whiteIndex: make(map[[4]byte]int),
		grayIndex:  make(map[[4]byte]int),
		priority:   priority,
		exclusive:  exclusive,
	}
}

// AddGray records addr as gray-listed unless it is already known in
// either list.
func (b *AddressBook) AddGray(addr NetAddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.whiteIndex[addr.IP]; ok {
		return
	}
	if _, ok := b.grayIndex[addr.IP]; ok {
		return
	}
	b.grayIndex[addr.IP] = len(b.gray)
	b.gray = append(b.gray, addr)
}

// Promote moves addr from gray to white, called once a handshake with
// it completes successfully.
func (b *AddressBook) Promote(addr NetAddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.grayIndex[addr.IP]; ok {
		b.removeAtLocked(&b.gray, b.grayIndex, i)
	}
	if _, ok := b.whiteIndex[addr.IP]; ok {
		return
	}
	b.whiteIndex[addr.IP] = len(b.white)
	b.white = append(b.white, addr)
}

// removeAtLocked removes the entry at index i from list, swapping in the
// last element to avoid an O(n) shift, and keeps the companion index map
// in sync for both the removed and swapped-in addresses.
func (b *AddressBook) removeAtLocked(list *[]NetAddr, index map[[4]byte]int, i int) {
	l := *list
	last := len(l) - 1
	removedIP := l[i].IP
	l[i] = l[last]
	if i != last {
		index[l[i].IP] = i
	}
	*list = l[:last]
	delete(index, removedIP)
}

// WhiteCount and GrayCount report the current size of each list.
func (b *AddressBook) WhiteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.white)
}

func (b *AddressBook) GrayCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.gray)
}

// Priority returns the operator-supplied priority/exclusive address set.
func (b *AddressBook) Priority() []NetAddr {
	return b.priority
}

// Exclusive reports whether exclusive-peer mode is active, which
// disables random connection making entirely.
func (b *AddressBook) Exclusive() bool {
	return b.exclusive
}

// cubicBiasIndex draws a random index in [0, maxIndex] biased toward
// small indexes via the transform (x^3)/(maxIndex^2), where x is drawn
// uniformly from [0, maxIndex], without ever fully excluding large ones.
// The white and gray lists are kept in insertion order (appends, with
// removal swapping the last entry into the gap), not sorted by LastSeen,
// so the bias favors earlier-added addresses, not recently seen ones.
func cubicBiasIndex(maxIndex int) int {
	if maxIndex <= 0 {
		return 0
	}
	x := rand.Intn(maxIndex + 1)
	biased := (x * x * x) / (maxIndex * maxIndex)
	if biased > maxIndex {
		biased = maxIndex
	}
	return biased
}

// RandomWhite returns a cubic-bias-selected white-list address, and
// false if the white list is empty.
func (b *AddressBook) RandomWhite() (NetAddr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.white) == 0 {
		return NetAddr{}, false
	}
	return b.white[cubicBiasIndex(len(b.white)-1)], true
}

// RandomGray returns a cubic-bias-selected gray-list address, and false
// if the gray list is empty.
func (b *AddressBook) RandomGray() (NetAddr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.gray) == 0 {
		return NetAddr{}, false
	}
	return b.gray[cubicBiasIndex(len(b.gray)-1)], true
}
