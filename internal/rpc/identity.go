package rpc

import "github.com/warpcomdev/ratcam/internal/plugin"

// ObjectRef identifies one plugin instance anywhere in the three-process
// topology: which process hosts it, the name it is registered under on
// that process's Server, and the socket to dial to reach it. Two
// ObjectRefs naming the same (Process, Name) pair refer to the same
// instance, which is what internal/rpc/lookup uses to collapse a
// same-process reference into a direct Go value instead of a proxy
// (spec.md §4.2, Design Note "Global mutable plugin table").
type ObjectRef struct {
	Process plugin.Process
	Name    string
	Socket  string
}

// Proxy is an ObjectRef bound to a live Client, handed to plugin code in
// place of a direct reference when the target instance lives in another
// process.
type Proxy struct {
	ref    ObjectRef
	client *Client
}

// NewProxy wires an ObjectRef to an already-dialled Client.
func NewProxy(ref ObjectRef, client *Client) *Proxy {
	return &Proxy{ref: ref, client: client}
}

// Ref returns the identity this proxy stands in for.
func (p *Proxy) Ref() ObjectRef { return p.ref }

// Call forwards to the underlying Client against this proxy's target.
func (p *Proxy) Call(method string, out interface{}, args ...interface{}) error {
	return p.client.Call(p.ref.Name, method, out, args...)
}

// CallOneway forwards a fire-and-forget call.
func (p *Proxy) CallOneway(method string, args ...interface{}) error {
	return p.client.CallOneway(p.ref.Name, method, args...)
}

// Close releases the underlying connection. Proxies sharing a Client
// (every proxy that targets the same remote process) should only be
// closed once their owning processeshost tears down that process.
func (p *Proxy) Close() error {
	return p.client.Close()
}
