package main

import (
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/peer"
	"github.com/go-cnote/cnoted/util"
)

const (
	appName               = "cnoted"
	defaultLogFilename    = "cnoted.log"
	defaultErrLogFilename = "cnoted_err.log"
	defaultListenPort     = 12800
	defaultNetworkID      = 1
	defaultTargetPeers    = 8
	defaultDialInterval   = 5 * time.Second
)

var (
	defaultHomeDir    = util.AppDataDir(appName, false)
	defaultDataDir    = filepath.Join(defaultHomeDir, "data")
	defaultLogDir     = filepath.Join(defaultHomeDir, "logs")
	defaultLogFile    = filepath.Join(defaultLogDir, defaultLogFilename)
	defaultErrLogFile = filepath.Join(defaultLogDir, defaultErrLogFilename)
)

// config is the full set of cnoted's command-line options, following
// mining/simulator/config.go's go-flags struct-tag pattern: every
// option is a field with a `long` name and a `description`, parsed by
// a single flags.Parser rather than hand-rolled flag.FlagSet calls.
type config struct {
	DataDir           string        `long:"datadir" description:"Directory to store the block and output indexes"`
	ListenAddr        string        `long:"listen" description:"Address to listen for incoming P2P connections, empty disables listening"`
	ConnectPeers      []string      `long:"connect" description:"Priority peer IP:port to always try to keep a connection open to; repeatable"`
	ExclusivePeers    bool          `long:"exclusive" description:"Only ever connect to --connect peers, disabling the gray/white address book"`
	TargetConnections int           `long:"maxpeers" description:"Target number of simultaneous outbound+inbound P2P connections" default:"8"`
	DialInterval      time.Duration `long:"dialinterval" description:"How often to attempt a new outbound connection while below --maxpeers" default:"5s"`
	NetworkID         uint64        `long:"networkid" description:"Network identifier exchanged during HANDSHAKE" default:"1"`
	LogDir            string        `long:"logdir" description:"Directory to write log files to"`
	Debug             string        `long:"debuglevel" short:"d" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} or <subsystem>=<level>,..." default:"info"`
}

// loadConfig parses the command line, fills in AppDataDir-relative
// defaults for any path left unset, and initializes log rotation -- the
// same order mining/simulator/config.go's parseConfig follows: parse,
// validate, then bring logging up so everything after this point can
// use the package loggers.
func loadConfig() (*config, error) {
	cfg := &config{
		DataDir:           defaultDataDir,
		ListenAddr:        "",
		TargetConnections: defaultTargetPeers,
		DialInterval:      defaultDialInterval,
		NetworkID:         defaultNetworkID,
		LogDir:            defaultLogDir,
		Debug:             "info",
	}

	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	errLogFile := filepath.Join(cfg.LogDir, defaultErrLogFilename)
	logger.InitLogRotators(logFile, errLogFile)

	if err := logger.ParseAndSetDebugLevels(cfg.Debug); err != nil {
		return nil, errors.Wrap(err, "cnoted: parsing --debuglevel")
	}

	return cfg, nil
}

// priorityAddresses resolves every --connect value into a peer.NetAddr,
// rejecting anything that isn't a dotted IPv4 host:port -- the address
// book only ever keys peers by a 4-byte IP, following
// addressmanager.AddressKey's IPv4-only assumption.
func (cfg *config) priorityAddresses() ([]peer.NetAddr, error) {
	addrs := make([]peer.NetAddr, 0, len(cfg.ConnectPeers))
	for _, raw := range cfg.ConnectPeers {
		host, portStr, err := net.SplitHostPort(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "cnoted: invalid --connect address %q", raw)
		}
		ip := net.ParseIP(host)
		v4 := ip.To4()
		if v4 == nil {
			return nil, errors.Errorf("cnoted: --connect address %q is not a dotted IPv4 host", raw)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "cnoted: invalid port in --connect address %q", raw)
		}
		var addr peer.NetAddr
		copy(addr.IP[:], v4)
		addr.Port = uint16(port)
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// normalizeListenAddr normalizes a --listen value missing a host to all
// interfaces, so "12800" and ":12800" both behave the same way net.Listen
// already treats them.
func normalizeListenAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}
