package protocol

// State is a peer connection's position in the per-peer protocol state
// machine. Transitions are driven entirely by handshake outcome, sync
// progress, and message validity; any deserialization failure or
// invariant violation drives a peer straight to Shutdown rather than
// panicking the connection goroutine.
type State uint8

const (
	// BeforHandshake is the state every inbound or outbound connection
	// starts in, before HANDSHAKE completes. The misspelling matches the
	// reference implementation's own enum member name.
	BeforHandshake State = iota
	// Synchronizing is entered once a handshake succeeds and the local
	// chain lags the peer; the peer drives REQUEST_CHAIN /
	// REQUEST_GET_OBJECTS until caught up.
	Synchronizing
	// Idle is a transient state between completing one synchronizing
	// step and requesting the next.
	Idle
	// Normal is the steady state once synchronized: the peer relays new
	// blocks and transactions and answers requests.
	Normal
	// SyncRequired marks a peer whose reported height exceeds the local
	// chain and that needs to be (re)entered into Synchronizing.
	SyncRequired
	// PoolSyncRequired marks a peer that needs a REQUEST_TX_POOL round
	// once block sync completes.
	PoolSyncRequired
	// Shutdown is terminal: the connection is being torn down and no
	// further messages are processed.
	Shutdown
)

var stateNames = map[State]string{
	BeforHandshake:   "BeforHandshake",
	Synchronizing:    "Synchronizing",
	Idle:             "Idle",
	Normal:           "Normal",
	SyncRequired:     "SyncRequired",
	PoolSyncRequired: "PoolSyncRequired",
	Shutdown:         "Shutdown",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UnknownState"
}
