// Package rpc implements the remote-object transport (component A):
// a UNIX-domain socket server, an object registry, and proxy marshalling
// including one-way calls and remote exceptions. Grounded on the
// request/response shape of plugins/singleton_host.py's Pyro4 usage, but
// rendered as a plain length-prefixed JSON protocol (internal/codec
// supplies the type-tagged envelope for values that need it) since Go has
// no Pyro4 equivalent in the retrieved example pack.
package rpc

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// registeredObject is one named, method-callable object hosted by a
// Server.
type registeredObject struct {
	id     uint64
	name   string
	value  reflect.Value
	oneway map[string]bool
}

// Server is the singleton request-response endpoint bound to a UNIX
// socket. One Server runs per OS process (spec.md §4.1).
type Server struct {
	logger   ratcamlog.Logger
	listener net.Listener

	mu       sync.RWMutex
	byName   map[string]*registeredObject
	byID     map[uint64]*registeredObject
	nextID   uint64

	closed chan struct{}
	wg     sync.WaitGroup
}

// Listen binds a Server to a UNIX socket at path, removing any stale
// socket file first.
func Listen(logger ratcamlog.Logger, path string) (*Server, error) {
	_ = removeStaleSocket(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", path, err)
	}
	s := &Server{
		logger:   logger,
		listener: l,
		byName:   make(map[string]*registeredObject),
		byID:     make(map[uint64]*registeredObject),
		closed:   make(chan struct{}),
	}
	return s, nil
}

// Addr is the UNIX socket path the server is bound to.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Register exposes obj under name. onewayMethods lists the method names
// that are dispatched without waiting for completion or returning a
// response, implementing the "one-way" call kind of spec.md §4.1 — the
// Go rendering of the Design Note "Decorator-registered handlers" applied
// to the transport layer: rather than a per-method decorator, the caller
// supplies the allowlist once at registration time.
func (s *Server) Register(name string, obj interface{}, onewayMethods ...string) uint64 {
	id := atomic.AddUint64(&s.nextID, 1)
	oneway := make(map[string]bool, len(onewayMethods))
	for _, m := range onewayMethods {
		oneway[m] = true
	}
	ro := &registeredObject{
		id:     id,
		name:   name,
		value:  reflect.ValueOf(obj),
		oneway: oneway,
	}
	s.mu.Lock()
	s.byName[name] = ro
	s.byID[id] = ro
	s.mu.Unlock()
	return id
}

// Unregister removes a previously registered object.
func (s *Server) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ro, ok := s.byName[name]; ok {
		delete(s.byName, name)
		delete(s.byID, ro.id)
	}
}

// ObjectID returns the stable identity of a locally-registered object,
// used by internal/rpc/lookup to collapse same-process proxies into
// direct references without a round-trip (spec.md §4.2/§4.5).
func (s *Server) ObjectID(name string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ro, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	return ro.id, true
}

// Local returns the concrete locally-hosted object for id, if any.
func (s *Server) Local(id uint64) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ro, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return ro.value.Interface(), true
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Each connection is served by its own goroutine; frames on a single
// connection are handled strictly in order, which is what gives a single
// proxy's calls the in-order guarantee spec.md §5 requires.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	err := s.listener.Close()
	_ = removeStaleSocket(s.listener.Addr().String())
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		var req request
		if err := readFrame(conn, &req); err != nil {
			return
		}
		if req.Oneway {
			go s.dispatch(req, conn, true)
			continue
		}
		s.dispatch(req, conn, false)
	}
}

func (s *Server) dispatch(req request, conn net.Conn, oneway bool) {
	resp := s.invoke(req)
	if oneway {
		return
	}
	_ = writeFrame(conn, resp)
}

func (s *Server) invoke(req request) response {
	s.mu.RLock()
	ro, ok := s.byName[req.Target]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(req.CallID, ErrUnknownTarget, "no object registered as %q", req.Target)
	}
	method := ro.value.MethodByName(req.Method)
	if !method.IsValid() {
		return errorResponse(req.CallID, ErrUnknownMethod, "%s has no method %q", req.Target, req.Method)
	}
	mtype := method.Type()
	if mtype.NumIn() != len(req.Args) {
		return errorResponse(req.CallID, ErrDeserialisation, "%s.%s expects %d args, got %d", req.Target, req.Method, mtype.NumIn(), len(req.Args))
	}
	args := make([]reflect.Value, mtype.NumIn())
	for i := range args {
		argPtr := reflect.New(mtype.In(i))
		if err := decodeArg(req.Args[i], argPtr.Interface()); err != nil {
			return errorResponse(req.CallID, ErrDeserialisation, "%v", err)
		}
		args[i] = argPtr.Elem()
	}
	results := safeCall(method, args)
	return buildResponse(req.CallID, mtype, results)
}

func safeCall(method reflect.Value, args []reflect.Value) (results []reflect.Value) {
	defer func() {
		if r := recover(); r != nil {
			results = []reflect.Value{reflect.ValueOf(fmt.Errorf("panic: %v", r))}
		}
	}()
	return method.Call(args)
}

func buildResponse(callID int64, mtype reflect.Type, results []reflect.Value) response {
	// Convention: a method's final return value, if it implements error,
	// carries the remote-raised outcome; everything before it is the
	// return value proper (0 or 1 values in every plugin method used in
	// this module).
	var errVal error
	var valueVals []reflect.Value
	if len(results) > 0 {
		last := results[len(results)-1]
		if isErrorType(last.Type()) {
			if !last.IsNil() {
				errVal = last.Interface().(error)
			}
			valueVals = results[:len(results)-1]
		} else {
			valueVals = results
		}
	}
	if errVal != nil {
		return errorResponse(callID, ErrRemoteRaised, "%v", errVal)
	}
	var value interface{}
	if len(valueVals) == 1 {
		value = valueVals[0].Interface()
	} else if len(valueVals) > 1 {
		tuple := make([]interface{}, len(valueVals))
		for i, v := range valueVals {
			tuple[i] = v.Interface()
		}
		value = tuple
	}
	return response{CallID: callID, OK: true, Value: encodeArg(value)}
}

var errorInterfaceType = reflect.TypeOf((*error)(nil)).Elem()

func isErrorType(t reflect.Type) bool {
	return t.Implements(errorInterfaceType)
}

func errorResponse(callID int64, kind ErrKind, format string, args ...interface{}) response {
	return response{
		CallID:  callID,
		OK:      false,
		ErrKind: kind,
		ErrMsg:  fmt.Sprintf(format, args...),
	}
}

func decodeArg(raw []byte, out interface{}) error {
	return jsonUnmarshal(raw, out)
}
