package reactor

import (
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Acceptor owns a listening socket whose accepted connections are handed to
// the reactor goroutine.
type Acceptor struct {
	ln  net.Listener
	log *zap.Logger
}

// Listen binds addr and posts every accepted connection onto the reactor via
// onAccept. With a non-nil tlsConf the listener speaks TLS.
func (r *Reactor) Listen(addr string, tlsConf *tls.Config, onAccept func(net.Conn)) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	a := &Acceptor{ln: ln, log: r.log.With(zap.String("listener", addr))}
	go a.acceptLoop(r, onAccept)
	return a, nil
}

func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

func (a *Acceptor) Close() error {
	return a.ln.Close()
}

func (a *Acceptor) acceptLoop(r *Reactor, onAccept func(net.Conn)) {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		r.Post(func() { onAccept(conn) })
	}
}
