package chain

import (
	"fmt"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/util"
)

// NotificationType identifies the kind of event an Observer is told
// about.
type NotificationType int

// Observer is a callback registered via Subscribe.
type Observer func(*Notification)

const (
	// NTBlockAdded indicates a block was committed via PushBlock.
	NTBlockAdded NotificationType = iota

	// NTBlockPopped indicates a block was removed via Split.
	NTBlockPopped

	// NTChainSwitched indicates Split followed by a replay changed the
	// canonical chain's tip.
	NTChainSwitched
)

var notificationTypeStrings = map[NotificationType]string{
	NTBlockAdded:    "NTBlockAdded",
	NTBlockPopped:   "NTBlockPopped",
	NTChainSwitched: "NTChainSwitched",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("unknown notification type (%d)", int(n))
}

// Notification is delivered to every subscribed Observer.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// BlockAddedNotificationData accompanies NTBlockAdded.
type BlockAddedNotificationData struct {
	Block  *core.Block
	Height util.Height
}

// BlockPoppedNotificationData accompanies NTBlockPopped.
type BlockPoppedNotificationData struct {
	Hash   util.Hash
	Height util.Height
}

// Subscribe registers observer to be called for every subsequent
// PushBlock/Split event.
func (bc *Blockchain) Subscribe(observer Observer) {
	bc.notificationsLock.Lock()
	defer bc.notificationsLock.Unlock()
	bc.observers = append(bc.observers, observer)
}

func (bc *Blockchain) sendNotification(typ NotificationType, data interface{}) {
	n := &Notification{Type: typ, Data: data}
	bc.notificationsLock.RLock()
	defer bc.notificationsLock.RUnlock()
	for _, observer := range bc.observers {
		observer(n)
	}
}

// pushUnitsCache appends info to the bounded in-memory "unitsCache"
// deque, evicting the oldest entry once defaultUnitsCacheSize is
// exceeded.
func (bc *Blockchain) pushUnitsCache(info *core.CachedBlockInfo) {
	bc.unitsCacheMu.Lock()
	defer bc.unitsCacheMu.Unlock()

	bc.unitsCache = append(bc.unitsCache, info)
	if len(bc.unitsCache) > defaultUnitsCacheSize {
		bc.unitsCache = bc.unitsCache[len(bc.unitsCache)-defaultUnitsCacheSize:]
	}
}

// popUnitsCache removes the most recently pushed entry, if any, undoing
// pushUnitsCache's append during Split.
func (bc *Blockchain) popUnitsCache() {
	bc.unitsCacheMu.Lock()
	defer bc.unitsCacheMu.Unlock()

	if len(bc.unitsCache) == 0 {
		return
	}
	bc.unitsCache = bc.unitsCache[:len(bc.unitsCache)-1]
}

// UnitsCache returns a copy of the current bounded recent-block-info
// deque, most recently pushed last.
func (bc *Blockchain) UnitsCache() []*core.CachedBlockInfo {
	bc.unitsCacheMu.Lock()
	defer bc.unitsCacheMu.Unlock()

	out := make([]*core.CachedBlockInfo, len(bc.unitsCache))
	copy(out, bc.unitsCache)
	return out
}
