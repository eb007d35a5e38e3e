// Package node implements the reactive component of a commonsync node.
//
// This is the part that controls the sync routines and feeds inbound events
// through the acceptance policy. Node implements a state machine with three
// states: Running, Suspended, and Shutdown.
//
// Propagation
//
// Nodes communicate in a fully connected p2p network over a SecureTransport.
// Events move between nodes along two paths. When a locally submitted event
// is accepted, it is pushed immediately to every peer in a Submit message. In
// the background, every node periodically picks another node at random and
// sends it a SyncRequest advertising the event IDs it already has; the peer
// answers with a SyncResponse carrying the events the requester is missing.
// This anti-entropy pull repairs whatever the push path missed, so that
// connected nodes converge on the same event set even after a partition.
//
// Every inbound event, whether pushed or pulled, passes through the same
// acceptance policy before it can touch the audit log: there is no trusted
// ingress path. A node that rejects an event simply does not store it; the
// rejection travels no further.
//
// Suspension
//
// A node can be suspended, either by starting it in maintenance mode or by
// calling Suspend. A suspended node keeps answering sync requests but stops
// initiating its own rounds, so it serves history without extending it.
package node
