// Package lookup builds the per-process plugin-lookup table: for every
// defined plugin instance, one slot per process holding either a direct
// Go reference (the instance lives in this process — "identity collapse",
// spec.md §4.2) or an *rpc.Proxy (the instance lives elsewhere). The
// table is built once, by internal/rpc/processeshost, after every process
// has activated its local plugin slots, and handed to each process as a
// read-only plugin.Lookup.
package lookup

import (
	"fmt"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/rpc"
)

// Table is an immutable, process-scoped view of every plugin instance in
// the topology.
type Table struct {
	self      plugin.Process
	order     []string
	instances map[string]plugin.Instance
}

// Build constructs the Table for the process named self.
//
//   - defs lists every plugin instance in the topology, in the order they
//     were declared.
//   - locals maps a definition Name to the concrete, already-Activated Go
//     object hosted by THIS process, for every definition whose
//     Types.Get(self) is non-empty.
//   - clients supplies one already-dialled *rpc.Client per OTHER process,
//     used to build proxies; clients.Get(self) is never read.
//   - sockets supplies the socket path each process's Server is bound to,
//     recorded on each ObjectRef for diagnostics.
func Build(self plugin.Process, defs []plugin.Definition, locals map[string]interface{}, clients plugin.Triple[*rpc.Client], sockets plugin.Triple[string]) (*Table, error) {
	instances := make(map[string]plugin.Instance, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		order = append(order, def.Name)
		var slots plugin.Triple[any]
		for _, p := range plugin.All {
			typeName := def.Types.Get(p)
			if typeName == "" {
				continue
			}
			if p == self {
				obj, ok := locals[def.Name]
				if !ok {
					return nil, fmt.Errorf("lookup: %s: no local object activated for process %s", def.Name, p)
				}
				slots.Set(p, obj)
				continue
			}
			client := clients.Get(p)
			if client == nil {
				return nil, fmt.Errorf("lookup: %s: no client available for process %s", def.Name, p)
			}
			ref := rpc.ObjectRef{Process: p, Name: def.Name, Socket: sockets.Get(p)}
			slots.Set(p, rpc.NewProxy(ref, client))
		}
		instances[def.Name] = plugin.Instance{Name: def.Name, Slots: slots}
	}
	return &Table{self: self, order: order, instances: instances}, nil
}

// Find returns the Instance registered under name, collapsed for the
// calling process: the slot for Table's own process, if present, is a
// direct reference rather than a loopback proxy.
func (t *Table) Find(name string) (plugin.Instance, bool) {
	inst, ok := t.instances[name]
	return inst, ok
}

// InProcess returns every instance's slot for process p, in declaration
// order, skipping definitions absent from that process.
func (t *Table) InProcess(p plugin.Process) []plugin.Slot {
	out := make([]plugin.Slot, 0, len(t.order))
	for _, name := range t.order {
		if slot := t.instances[name].Slots.Get(p); slot != nil {
			out = append(out, plugin.Slot{Name: name, Value: slot})
		}
	}
	return out
}

// Self returns the process this table was built for.
func (t *Table) Self() plugin.Process { return t.self }

var _ plugin.Lookup = (*Table)(nil)
