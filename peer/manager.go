package peer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/go-cnote/cnoted/protocol"
)

// Config bundles the fixed per-network connection-policy constants the
// peer manager needs, mirroring the P2P_DEFAULT_* constants the
// reference NodeServer reads out of its command-line options.
type Config struct {
	ListenAddr        string
	TargetConnections int
	DialInterval      time.Duration
}

// DefaultConfig mirrors the reference implementation's
// P2P_DEFAULT_CONNECTIONS_COUNT (8) and a conservative dial cadence.
func DefaultConfig() Config {
	return Config{
		TargetConnections: 8,
		DialInterval:      5 * time.Second,
	}
}

// Manager owns the address book and drives connection policy: accepting
// inbound sockets, dialing outbound ones per NextDialAddress, and
// handing every live connection to a protocol.Context for the lifetime
// of that connection.
type Manager struct {
	cfg     Config
	ctx     *protocol.Context
	book    *AddressBook
	ownIP   [4]byte
	ownPort uint16

	listener net.Listener

	activeConnections int32
	dialedPriority    map[[4]byte]bool

	stopChan chan struct{}
}

// NewManager returns a Manager ready to Start once its protocol.Context
// and AddressBook are constructed.
func NewManager(cfg Config, ctx *protocol.Context, book *AddressBook) *Manager {
	return &Manager{
		cfg:            cfg,
		ctx:            ctx,
		book:           book,
		dialedPriority: make(map[[4]byte]bool),
		stopChan:       make(chan struct{}),
	}
}

// Start opens the listen socket (if cfg.ListenAddr is set) and launches
// the accept loop and the outbound dial loop as independent tasks, each
// wrapped by the package's panic-handling spawn helper.
func (m *Manager) Start() error {
	if m.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", m.cfg.ListenAddr)
		if err != nil {
			return err
		}
		m.listener = ln
		spawn(m.acceptLoop)
	}
	spawn(m.dialLoop)
	return nil
}

// Shutdown closes stopChan, which ends the dial loop, and closes the
// listener, which ends the accept loop. It does not interrupt a dial
// already in progress (one that then succeeds is handled like any other
// connection) and does not close live connections.
func (m *Manager) Shutdown() {
	close(m.stopChan)
	if m.listener != nil {
		m.listener.Close()
	}
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.stopChan:
				return
			default:
				log.Warnf("accept failed: %v", err)
				continue
			}
		}
		spawn(func() { m.handleConnection(conn, false) })
	}
}

// dialLoop periodically tops the connection count up toward
// cfg.TargetConnections using the address book's selection policy,
// until exclusive-peer mode or an empty book stops it from finding a
// candidate.
func (m *Manager) dialLoop() {
	ticker := time.NewTicker(m.cfg.DialInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.dialOnce()
		}
	}
}

func (m *Manager) dialOnce() {
	current := int(atomic.LoadInt32(&m.activeConnections))
	if current >= m.cfg.TargetConnections {
		return
	}
	addr, ok := m.book.NextDialAddress(current, m.cfg.TargetConnections, m.dialedPriority)
	if !ok {
		return
	}
	for _, p := range m.book.Priority() {
		if p.IP == addr.IP {
			m.dialedPriority[addr.IP] = true
		}
	}
	spawn(func() { m.dial(addr) })
}

func (m *Manager) dial(addr NetAddr) {
	tcpAddr := &net.TCPAddr{IP: net.IPv4(addr.IP[0], addr.IP[1], addr.IP[2], addr.IP[3]), Port: int(addr.Port)}
	conn, err := net.DialTimeout("tcp", tcpAddr.String(), 10*time.Second)
	if err != nil {
		log.Debugf("dial %s failed: %v", tcpAddr, err)
		m.book.AddGray(addr)
		return
	}
	m.handleConnection(conn, true)
}

// handleConnection drives one live socket end to end: ban check,
// transport setup, an immediate HANDSHAKE request for outbound
// connections, and then the reader loop for the lifetime of the
// connection. It returns only once the connection has been torn down.
func (m *Manager) handleConnection(conn net.Conn, isOutbound bool) {
	ip := remoteIPv4(conn)
	if !m.ctx.CheckConnectionAllowed(ip) {
		log.Debugf("rejecting banned peer %s", conn.RemoteAddr())
		conn.Close()
		return
	}

	tc := newConnection(conn, ip, isOutbound)
	p := protocol.NewPeer(tc)

	atomic.AddInt32(&m.activeConnections, 1)
	defer atomic.AddInt32(&m.activeConnections, -1)

	spawn(tc.writerLoop)

	if isOutbound {
		req := m.ctx.BuildHandshakeRequest()
		if err := tc.Send(protocol.CmdHandshake, protocol.FlagRequest, protocol.EncodeHandshakeRequest(req)); err != nil {
			return
		}
	}

	handshaked := false
	tc.readerLoop(func(f *frame) error {
		if err := m.ctx.Dispatch(p, f.Command, f.Flags, f.Payload); err != nil {
			m.ctx.Shutdown(p, err)
			return err
		}
		if p.State != protocol.BeforHandshake {
			handshaked = true
		}
		return nil
	})

	m.ctx.OnConnectionClosed(p)
	if isOutbound {
		if handshaked {
			m.book.Promote(NetAddr{IP: ip, Port: addrPort(conn), LastSeen: uint64(time.Now().Unix())})
		}
	} else {
		m.book.AddGray(NetAddr{IP: ip, Port: addrPort(conn), LastSeen: uint64(time.Now().Unix())})
	}
}

func remoteIPv4(conn net.Conn) [4]byte {
	var ip [4]byte
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return ip
	}
	v4 := tcpAddr.IP.To4()
	if v4 == nil {
		return ip
	}
	copy(ip[:], v4)
	return ip
}

func addrPort(conn net.Conn) uint16 {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return uint16(tcpAddr.Port)
}
