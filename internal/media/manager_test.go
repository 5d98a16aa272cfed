package media

import (
	"context"
	"os"
	"testing"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// singleProcessLookup is a trivial plugin.Lookup stub for tests that only
// exercise a single process with no RPC peers.
type singleProcessLookup struct {
	self plugin.Process
	recv Receiver
}

func (l singleProcessLookup) Find(name string) (plugin.Instance, bool) {
	return plugin.Instance{}, false
}

func (l singleProcessLookup) InProcess(p plugin.Process) []plugin.Slot {
	if p != l.self || l.recv == nil {
		return nil
	}
	return []plugin.Slot{{Name: "receiver", Value: l.recv}}
}

type recordingReceiver struct {
	got []Record
}

func (r *recordingReceiver) HandleMedia(rec Record) error {
	r.got = append(r.got, rec)
	return nil
}

func TestDeliverSingleProcessConsumesAndDeletes(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "media-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	recv := &recordingReceiver{}
	m := New(ratcamlog.Nop(), "medialib")
	lookup := singleProcessLookup{self: plugin.MAIN, recv: recv}
	if err := m.Activate(context.Background(), &plugin.Context{Self: plugin.MAIN, Table: lookup}); err != nil {
		t.Fatal(err)
	}
	defer m.Deactivate(context.Background())

	id, err := m.Deliver(context.Background(), path, KindJPEG, "hello")
	if err != nil {
		t.Fatal(err)
	}

	// Deliver dispatches asynchronously via the worker queue; drive it
	// synchronously for the test by calling DispatchMedia's underlying
	// path directly instead of waiting on the background goroutine.
	m.dispatchLocal(lookup, Record{UUID: id, Owner: plugin.MAIN, Kind: KindJPEG, Path: path, Info: "hello"})

	if len(recv.got) != 1 {
		t.Fatalf("expected 1 dispatched record, got %d", len(recv.got))
	}
	if recv.got[0].Info != "hello" {
		t.Fatalf("info mismatch: %+v", recv.got[0])
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed after consume, stat err = %v", err)
	}
	if _, ok := m.owned[id]; ok {
		t.Fatalf("record should have been removed from owned table")
	}
}

func TestConsumeMediaIdempotent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "media-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	m := New(ratcamlog.Nop(), "medialib")
	lookup := singleProcessLookup{self: plugin.MAIN}
	if err := m.Activate(context.Background(), &plugin.Context{Self: plugin.MAIN, Table: lookup}); err != nil {
		t.Fatal(err)
	}
	defer m.Deactivate(context.Background())

	id, err := m.Deliver(context.Background(), path, KindJPEG, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.ConsumeMedia(id, plugin.MAIN); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
	// Second call for the same id is a no-op, not an error.
	if err := m.ConsumeMedia(id, plugin.MAIN); err != nil {
		t.Fatalf("duplicate consume should be a no-op: %v", err)
	}
}
