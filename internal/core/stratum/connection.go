package stratum

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"hash/fnv"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	keepAlivePeriod = 2 * time.Second
	writeTimeout    = 5 * time.Second
	writeQueueLen   = 32
)

// connection is the server side of one miner socket. Lines are read on a
// dedicated goroutine and posted onto the reactor, frames are written by a
// dedicated goroutine fed through writeCh; all other state is touched on the
// reactor goroutine only.
type connection struct {
	srv      *Server
	id       uint64
	conn     net.Conn
	log      *zap.Logger
	loggedIn bool

	writeCh chan writeReq
	done    chan struct{}
	closed  bool
}

type writeReq struct {
	msg      []byte
	shutdown bool
}

func newConnection(srv *Server, id uint64, conn net.Conn) *connection {
	c := &connection{
		srv:     srv,
		id:      id,
		conn:    conn,
		log:     srv.log.With(zap.String("peer", conn.RemoteAddr().String())),
		writeCh: make(chan writeReq, writeQueueLen),
		done:    make(chan struct{}),
	}
	enableKeepAlive(conn)
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *connection) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, MaxLineSize), MaxLineSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		c.srv.reactor.Post(func() {
			if !Dispatch(line, c) {
				c.srv.onBadPeer(c.id)
			}
		})
	}
	if err := scanner.Err(); err != nil {
		c.log.Debug("peer read failed", zap.Error(err))
	}
	c.srv.reactor.Post(func() { c.srv.onBadPeer(c.id) })
}

// writeLoop owns the socket's write side and its final Close. On close it
// first flushes the frames already queued, so a reply followed by a prune
// still reaches the peer.
func (c *connection) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case req := <-c.writeCh:
			if !c.writeFrame(req) {
				c.srv.reactor.Post(func() { c.srv.onBadPeer(c.id) })
				return
			}
		case <-c.done:
			for {
				select {
				case req := <-c.writeCh:
					if !c.writeFrame(req) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *connection) writeFrame(req writeReq) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(req.msg); err != nil {
		c.log.Debug("peer write failed", zap.Error(err))
		return false
	}
	if req.shutdown {
		halfClose(c.conn)
	}
	return true
}

// sendMsg queues one serialized frame for the writer goroutine; it never
// blocks the caller. A full queue means the peer stopped reading and the
// connection counts as dead. With shutdown the write side is closed after the
// frame goes out, so the peer sees EOF once it has read the reply.
func (c *connection) sendMsg(msg []byte, onlyIfLoggedIn, shutdown bool) bool {
	if onlyIfLoggedIn && !c.loggedIn {
		return true
	}
	if len(msg) == 0 {
		return true
	}
	if c.closed {
		return false
	}
	select {
	case c.writeCh <- writeReq{msg: msg, shutdown: shutdown}:
		return true
	default:
		return false
	}
}

// close stops the connection; the writer goroutine flushes queued frames and
// closes the socket, which also unblocks the reader.
func (c *connection) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *connection) OnLogin(msg Login) bool {
	return c.srv.onLogin(c.id, msg)
}

func (c *connection) OnSolution(msg Solution) bool {
	return c.srv.onSolution(c.id, msg)
}

func (c *connection) OnResult(msg Result) bool {
	return c.OnUnsupportedMethod(MethodResult)
}

func (c *connection) OnStratumError(code ResultCode) bool {
	c.log.Error("stratum error", zap.Int("code", int(code)), zap.String("msg", code.String()))
	return code != BadProtocol
}

func (c *connection) OnUnsupportedMethod(method string) bool {
	c.log.Info("ignoring unsupported stratum method", zap.String("method", method))
	return true
}

// peerID packs an IPv4 remote address into a number the way the connection
// map is keyed; other address families fall back to a hash.
func peerID(addr net.Addr) uint64 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		if ip4 := tcp.IP.To4(); ip4 != nil {
			return uint64(binary.BigEndian.Uint32(ip4))<<16 | uint64(tcp.Port)
		}
	}
	h := fnv.New64a()
	h.Write([]byte(addr.String()))
	return h.Sum64()
}

func enableKeepAlive(conn net.Conn) {
	if tc, ok := tcpConn(conn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(keepAlivePeriod)
	}
}

func halfClose(conn net.Conn) {
	switch c := conn.(type) {
	case *net.TCPConn:
		c.CloseWrite()
	case *tls.Conn:
		c.CloseWrite()
	}
}

func tcpConn(conn net.Conn) (*net.TCPConn, bool) {
	switch c := conn.(type) {
	case *net.TCPConn:
		return c, true
	case *tls.Conn:
		tc, ok := c.NetConn().(*net.TCPConn)
		return tc, ok
	}
	return nil, false
}
