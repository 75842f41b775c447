package nats

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a NATS connection. The returned close func releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// sharedConn hands out one underlying connection to many stores and closes
// it when the last lease is released.
type sharedConn struct {
	connect Connector

	mu     sync.Mutex
	nc     *natsgo.Conn
	close  closeFunc
	leases int
}

func (s *sharedConn) lease() (*natsgo.Conn, closeFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		nc, closeNc, err := s.connect()
		if err != nil {
			return nil, nil, err
		}
		s.nc, s.close = nc, closeNc
	}
	s.leases++

	var once sync.Once
	return s.nc, func() { once.Do(s.release) }, nil
}

func (s *sharedConn) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leases--
	if s.leases > 0 || s.nc == nil {
		return
	}
	s.close()
	s.nc, s.close = nil, nil
}

// ReuseConnection shares the connection of connect between all callers. It
// is reopened on the next call after every lease was released.
func ReuseConnection(connect Connector) Connector {
	s := &sharedConn{connect: connect}
	return s.lease
}

// ConnectURL connects to natsURL. opts are applied after the defaults.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			append([]natsgo.Option{natsgo.MaxReconnects(3)}, opts...)...,
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault connects to NATS_URL, or the local default server.
func ConnectDefault() Connector {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = natsgo.DefaultURL
	}
	return ConnectURL(natsURL)
}
