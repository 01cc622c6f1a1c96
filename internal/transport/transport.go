// Package transport is the seam between the wire (secure channel, sessions,
// service request/response framing) and the in-process engine/client types
// in internal/subscription and internal/client. The secure channel is
// treated as an external collaborator this module never implements; this
// package ships one in-process Loopback implementation of client.Transport
// so cmd/subscriptiond has something concrete to run without a real OPC UA
// stack on the wire, driving a subscription.ServerSubscriptionEngine
// directly instead of through ASN.1/OPC UA binary framing.
package transport

import "github.com/nexus-edge/opcua-subscriptiond/internal/client"

var _ client.Transport = (*Loopback)(nil)
