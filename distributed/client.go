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

	"github.com/krotik/common/datautil"
	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/txn"
)

/*
Client is this worker's means of reaching every other worker's
Coordinator over net/rpc. Connections are dialed lazily and cached by
endpoint, mirroring cluster/manager.Client's lazy-dial-and-cache pattern
(teacher); the cache is a datautil.MapCache rather than a plain map so a
peer that stops being addressed eventually ages out instead of pinning a
dead *rpc.Client forever (spec §6 membership churn).
*/
type Client struct {
	mu      sync.RWMutex
	workers map[int32]string

	conns *datautil.MapCache
}

/*
NewClient creates a peer client with no known workers yet; workers are
added as RegisterWorker/ClusterDiscovery calls and replies are observed.
*/
func NewClient() *Client {
	return &Client{
		workers: make(map[int32]string),
		conns:   datautil.NewMapCache(256, 300),
	}
}

/*
SetEndpoint records (or updates) the RPC endpoint address for worker.
*/
func (c *Client) SetEndpoint(worker int32, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[worker] = endpoint
}

func (c *Client) endpoint(worker int32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.workers[worker]
	return ep, ok
}

func (c *Client) dial(worker int32) (*rpc.Client, error) {
	endpoint, ok := c.endpoint(worker)
	if !ok {
		return nil, graphdberr.Wrap(graphdberr.ErrRPCFailure, "unknown worker id")
	}

	if cached, ok := c.conns.Get(endpoint); ok {
		return cached.(*rpc.Client), nil
	}

	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return nil, graphdberr.Wrap(graphdberr.ErrRPCFailure, err.Error())
	}
	client := rpc.NewClient(conn)
	c.conns.Put(endpoint, client)
	return client, nil
}

/*
call dials worker (or reuses a cached connection), invokes method, and
drops the cached connection when the failure looks like a dead peer
rather than an application error - the same net.Error classification
cluster/manager.Client.SendRequest uses to decide whether a connection is
worth retrying on.
*/
func (c *Client) call(worker int32, method string, args, reply interface{}) error {
	client, err := c.dial(worker)
	if err != nil {
		return err
	}

	if err := client.Call(method, args, reply); err != nil {
		if _, ok := err.(net.Error); ok {
			if endpoint, ok := c.endpoint(worker); ok {
				c.conns.Remove(endpoint)
			}
			client.Close()
		}
		return graphdberr.Wrap(graphdberr.ErrRPCFailure, err.Error())
	}
	return nil
}

/*
Update forwards a buffered-update delta to worker's coordinator.
*/
func (c *Client) Update(worker int32, args UpdateArgs) error {
	return c.call(worker, "Coordinator.Update", &args, &Ack{})
}

/*
CreateVertex asks worker's coordinator to create a vertex on its behalf,
returning the new vertex's Gid.
*/
func (c *Client) CreateVertex(worker int32, args CreateVertexArgs) (CreateVertexReply, error) {
	var reply CreateVertexReply
	err := c.call(worker, "Coordinator.CreateVertex", &args, &reply)
	return reply, err
}

/*
CreateEdge asks worker's coordinator to create an edge on its behalf.
*/
func (c *Client) CreateEdge(worker int32, args CreateEdgeArgs) (CreateEdgeReply, error) {
	var reply CreateEdgeReply
	err := c.call(worker, "Coordinator.CreateEdge", &args, &reply)
	return reply, err
}

/*
RemoveVertex forwards a buffered vertex removal to worker's coordinator.
*/
func (c *Client) RemoveVertex(worker int32, args RemoveVertexArgs) error {
	return c.call(worker, "Coordinator.RemoveVertex", &args, &Ack{})
}

/*
RemoveEdge forwards a buffered edge removal to worker's coordinator.
*/
func (c *Client) RemoveEdge(worker int32, args RemoveEdgeArgs) error {
	return c.call(worker, "Coordinator.RemoveEdge", &args, &Ack{})
}

/*
Apply asks worker's coordinator to drain and replay its buffered updates
for a transaction and commit its local half.
*/
func (c *Client) Apply(worker int32, args ApplyArgs) error {
	return c.call(worker, "Coordinator.Apply", &args, &Ack{})
}

/*
Abort asks worker's coordinator to drop its buffered updates for tx
without applying them, used when CommitAcrossCluster must unwind a
transaction that a sibling worker failed to apply.
*/
func (c *Client) Abort(worker int32, tx txn.TxID) {
	_ = c.call(worker, "Coordinator.Abort", &ApplyArgs{Tx: tx}, &Ack{})
}

/*
RegisterWorker announces this worker to a peer and merges the membership
table it returns.
*/
func (c *Client) RegisterWorker(worker int32, args RegisterWorkerArgs) (RegisterWorkerReply, error) {
	var reply RegisterWorkerReply
	err := c.call(worker, "Coordinator.RegisterWorker", &args, &reply)
	if err == nil {
		for id, ep := range reply.Workers {
			c.SetEndpoint(id, ep)
		}
	}
	return reply, err
}

/*
ClusterDiscovery announces this worker's presence to a peer.
*/
func (c *Client) ClusterDiscovery(worker int32, args ClusterDiscoveryArgs) error {
	return c.call(worker, "Coordinator.ClusterDiscovery", &args, &Ack{})
}

/*
StopWorker asks a peer's RPC service to shut down gracefully.
*/
func (c *Client) StopWorker(worker int32, args StopWorkerArgs) error {
	return c.call(worker, "Coordinator.StopWorker", &args, &Ack{})
}
