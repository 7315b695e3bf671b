/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package distributed

import (
	"net"
	"net/rpc"
	"sync"

	"github.com/krotik/common/pools"
)

/*
Server listens for peer RPC connections and serves a Coordinator over
them. Incoming connections are handed to a bounded pools.ThreadPool
(spec §5: "a bounded work queue drained by a thread pool") rather than
one goroutine per connection, so a burst of peer traffic cannot spawn an
unbounded number of goroutines all serving net/rpc requests at once.
*/
type Server struct {
	Coordinator *Coordinator

	pool *pools.ThreadPool

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

/*
NewServer creates a server for coord with workerCount RPC-serving threads.
*/
func NewServer(coord *Coordinator, workerCount int) *Server {
	s := &Server{
		Coordinator: coord,
		pool:        pools.NewThreadPool(),
	}
	s.pool.SetWorkerCount(workerCount, true)
	return s
}

/*
Listen starts accepting connections on addr and registers Coordinator
under the net/rpc name "Coordinator". It returns once the listener is
bound; Accept runs in its own goroutine until Close is called.
*/
func (s *Server) Listen(addr string) (string, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Coordinator", s.Coordinator); err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(server, ln)

	return ln.Addr().String(), nil
}

func (s *Server) acceptLoop(server *rpc.Server, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			log.Error("distributed: accept failed: ", err)
			return
		}
		s.pool.AddTask(&serveConnTaskFor{server, conn})
	}
}

/*
serveConnTaskFor binds the accepted connection to the specific *rpc.Server
it must be served by, since net/rpc's package-level DefaultServer is
never used here (spec §6: each worker's coordinator is independent, not a
process-wide singleton).
*/
type serveConnTaskFor struct {
	server *rpc.Server
	conn   net.Conn
}

func (t *serveConnTaskFor) Run(tid uint64) error {
	t.server.ServeConn(t.conn)
	return nil
}

func (t *serveConnTaskFor) HandleError(e error) {
	log.Error("distributed: connection serve error: ", e)
}

/*
Close stops accepting new connections. Connections already handed to the
thread pool finish serving on their own.
*/
func (s *Server) Close() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	return ln.Close()
}
