package stratum

import (
	"crypto/tls"
	"encoding/hex"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/reactor"
)

const (
	serverRestartInterval = time.Second
	aclRefreshInterval    = 5 * time.Second

	seenSolutionLimit = 1024
	seenSolutionTTL   = 10 * time.Minute
)

// BlockFound fires on the reactor goroutine when a miner submits a solution.
type BlockFound func()

// Options configure the miner-facing listener. With empty CertFile/KeyFile the
// server speaks plain TCP; with an empty APIKeysFile every login passes.
type Options struct {
	ListenAddr  string
	CertFile    string
	KeyFile     string
	APIKeysFile string
}

type recentJobState struct {
	id  string
	msg []byte
}

type recentResultState struct {
	from         uint64
	jobID        string
	nonce        string
	output       string
	onBlockFound BlockFound
}

// Server accepts miner connections, authenticates them against the ACL,
// broadcasts jobs and routes solutions back to the wallet layer. All state is
// owned by the reactor goroutine.
type Server struct {
	opts    Options
	reactor *reactor.Reactor
	log     *zap.Logger
	acl     *AccessControl

	acceptor *reactor.Acceptor
	conns    map[uint64]*connection
	stopped  bool

	recentJob    recentJobState
	recentResult recentResultState
	cancelJob    func()

	// suppresses replayed solutions
	seen *expirable.LRU[string, struct{}]
}

// NewServer schedules the initial bind and the periodic ACL refresh on r.
func NewServer(opts Options, r *reactor.Reactor, log *zap.Logger) *Server {
	s := &Server{
		opts:    opts,
		reactor: r,
		log:     log.Named("stratum"),
		acl:     NewAccessControl(opts.APIKeysFile, log.Named("acl")),
		conns:   make(map[uint64]*connection),
		seen:    expirable.NewLRU[string, struct{}](seenSolutionLimit, nil, seenSolutionTTL),
	}
	r.Post(s.startServer)
	if opts.APIKeysFile != "" {
		r.SetTimer(aclRefreshInterval, true, s.acl.Refresh)
	}
	return s
}

func (s *Server) startServer() {
	if s.stopped {
		return
	}

	var tlsConf *tls.Config
	if s.opts.CertFile == "" || s.opts.KeyFile == "" {
		s.log.Warn("TLS disabled")
	} else {
		cert, err := tls.LoadX509KeyPair(s.opts.CertFile, s.opts.KeyFile)
		if err != nil {
			s.log.Error("cannot load TLS keypair", zap.Error(err))
			s.reactor.SetTimer(serverRestartInterval, false, s.startServer)
			return
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	a, err := s.reactor.Listen(s.opts.ListenAddr, tlsConf, s.onStreamAccepted)
	if err != nil {
		s.log.Error("cannot start server, restarting",
			zap.Error(err), zap.Duration("in", serverRestartInterval))
		s.reactor.SetTimer(serverRestartInterval, false, s.startServer)
		return
	}
	s.acceptor = a
	s.log.Info("listening", zap.String("addr", a.Addr().String()))
}

// Addr reports the bound address, nil before the listener is up.
func (s *Server) Addr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

func (s *Server) onStreamAccepted(conn net.Conn) {
	if s.stopped {
		conn.Close()
		return
	}
	id := peerID(conn.RemoteAddr())
	if old, ok := s.conns[id]; ok {
		old.close()
	}
	s.log.Debug("+peer", zap.String("addr", conn.RemoteAddr().String()))
	s.conns[id] = newConnection(s, id, conn)
}

func (s *Server) onLogin(from uint64, msg Login) bool {
	conn, ok := s.conns[from]
	if !ok {
		return false
	}

	if !s.acl.Check(msg.APIKey) {
		s.log.Info("peer login failed", zap.String("key", msg.APIKey))
		if b, err := EncodeLine(NewResult(msg.ID, LoginFailed)); err == nil {
			conn.sendMsg(b, false, true)
		}
		return false
	}

	conn.loggedIn = true
	return conn.sendMsg(s.recentJob.msg, true, false)
}

func (s *Server) onSolution(from uint64, sol Solution) bool {
	key := sol.ID + ":" + sol.Nonce
	if _, dup := s.seen.Get(key); dup {
		s.log.Debug("duplicate solution ignored",
			zap.String("job", sol.ID), zap.String("nonce", sol.Nonce))
		return true
	}
	s.seen.Add(key, struct{}{})

	s.recentResult.from = from
	s.recentResult.jobID = sol.ID
	s.recentResult.nonce = sol.Nonce
	s.recentResult.output = sol.Output

	s.log.Info("solution received",
		zap.String("job", sol.ID), zap.Uint64("from", from))
	if s.recentResult.onBlockFound != nil {
		s.recentResult.onBlockFound()
	}
	return true
}

func (s *Server) onBadPeer(from uint64) {
	conn, ok := s.conns[from]
	if !ok {
		return
	}
	s.log.Info("-peer", zap.Uint64("peer", from))
	conn.close()
	delete(s.conns, from)
}

// NewJob serializes the job once, remembers it as the current one and fans it
// out to every logged-in connection. Connections that fail to take the write
// are pruned.
func (s *Server) NewJob(id string, input chainhash.Hash, pow []byte, height uint64,
	found BlockFound, cancel func()) error {

	jobMsg := NewJob(id, hex.EncodeToString(input[:]), hex.EncodeToString(pow), height)
	b, err := EncodeLine(jobMsg)
	if err != nil {
		return err
	}

	s.recentJob.id = id
	s.recentJob.msg = b
	s.recentResult.onBlockFound = found
	s.cancelJob = cancel

	s.log.Info("new job",
		zap.String("job", id), zap.Int("peers", len(s.conns)))

	var dead []uint64
	for connID, conn := range s.conns {
		if !conn.sendMsg(b, true, false) {
			dead = append(dead, connID)
		}
	}
	for _, connID := range dead {
		s.onBadPeer(connID)
	}
	return nil
}

// SolutionResult reports acceptance or rejection of the most recent solution
// back to its submitter. It is written before any later job broadcast.
func (s *Server) SolutionResult(jobID string, accepted bool, blockHash chainhash.Hash, height uint64) {
	var msg any
	if accepted {
		msg = NewSolutionResult(jobID, hex.EncodeToString(blockHash[:]), height)
	} else {
		msg = NewResult(jobID, SolutionRejected)
	}
	b, err := EncodeLine(msg)
	if err != nil {
		s.log.Error("cannot encode solution result", zap.Error(err))
		return
	}

	conn, ok := s.conns[s.recentResult.from]
	if !ok {
		s.log.Debug("solution submitter is gone", zap.Uint64("peer", s.recentResult.from))
		return
	}
	if !conn.sendMsg(b, true, false) {
		s.onBadPeer(s.recentResult.from)
	}
}

// LastFoundBlock returns the most recently submitted solution.
func (s *Server) LastFoundBlock() (jobID, nonce, output string) {
	return s.recentResult.jobID, s.recentResult.nonce, s.recentResult.output
}

// StopCurrent forgets the current job so late joiners receive nothing.
func (s *Server) StopCurrent() {
	s.recentJob = recentJobState{}
}

// Stop drops the listener; existing connections terminate on their next I/O.
func (s *Server) Stop() {
	s.StopCurrent()
	s.stopped = true
	if s.acceptor != nil {
		s.acceptor.Close()
		s.acceptor = nil
	}
}
