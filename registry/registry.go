// Package registry implements the protocol registry: the per-process table
// mapping a corerpc.MessageType to a handler, and the reflection machinery
// that derives a typed client stub from a handler's Go signature (or from
// a standalone signature template, for a verb no local handler exists
// for).
//
// A registered handler's signature is examined once at registration time
// to classify its optional leading context.Context / corerpc.ClientInfo
// parameters, its wire argument types, and its wait mode, and a matching
// client stub function is synthesized with reflect.MakeFunc.
//
// Only corerpc.Caller is imported from the client side (not package
// client itself) so that stub construction here stays decoupled from
// connection management.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"corerpc"
	"corerpc/message"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// signature is a handler or stub-template function's shape, decomposed
// into the pieces the marshaller and the dispatcher need. argTypes and
// replyType are already unwrapped: a handler argument or return value
// declared as a pointer type is stored here as its element type, since
// that's both what goes on the wire and what the generated client stub
// exposes. argIsPointer records, per entry in argTypes, whether the
// handler's own parameter was actually a pointer and therefore needs
// re-wrapping before entry.fn.Call; it is only populated for signatures
// derived from a real handler function (parseSignature), not from a
// standalone stub template.
type signature struct {
	wantsCtx     bool
	wantsInfo    bool
	infoPointer  bool
	argTypes     []reflect.Type
	argIsPointer []bool
	wait         corerpc.WaitMode
	replyType    reflect.Type // nil for one-way or error-only handlers
}

func parseSignature(fnType reflect.Type) (signature, error) {
	if fnType.Kind() != reflect.Func {
		return signature{}, fmt.Errorf("registry: not a function: %s", fnType)
	}
	if fnType.IsVariadic() {
		return signature{}, fmt.Errorf("registry: variadic handlers are not supported")
	}
	var sig signature
	in := 0
	if in < fnType.NumIn() && fnType.In(in) == contextType {
		sig.wantsCtx = true
		in++
	}
	if in < fnType.NumIn() && corerpc.WantsClientInfo(fnType.In(in)) {
		sig.wantsInfo = true
		sig.infoPointer = fnType.In(in).Kind() == reflect.Pointer
		in++
	}
	for ; in < fnType.NumIn(); in++ {
		t := fnType.In(in)
		if elem, ok := corerpc.IsOwningWrapper(t); ok {
			sig.argTypes = append(sig.argTypes, elem)
			sig.argIsPointer = append(sig.argIsPointer, true)
		} else {
			sig.argTypes = append(sig.argTypes, t)
			sig.argIsPointer = append(sig.argIsPointer, false)
		}
	}

	switch fnType.NumOut() {
	case 0:
		sig.wait = corerpc.NoWaitMode
	case 1:
		if fnType.Out(0) != corerpc.ErrorType {
			return signature{}, fmt.Errorf("registry: single return value must be error, got %s", fnType.Out(0))
		}
		sig.wait = corerpc.Wait
	case 2:
		if fnType.Out(1) != corerpc.ErrorType {
			return signature{}, fmt.Errorf("registry: second return value must be error, got %s", fnType.Out(1))
		}
		replyType := fnType.Out(0)
		if elem, ok := corerpc.IsOwningWrapper(replyType); ok {
			replyType = elem
		}
		sig.replyType = replyType
		sig.wait = corerpc.Wait
	default:
		return signature{}, fmt.Errorf("registry: too many return values (%d)", fnType.NumOut())
	}
	return sig, nil
}

// stubFuncType builds the reflect.Type of the client-facing stub for sig:
// a leading context.Context (the caller always supplies one explicitly,
// regardless of whether the server-side handler asked for it), the wire
// argument types, and either (Reply, error), (error), matching the
// handler's own shape minus ClientInfo.
func (sig signature) stubFuncType() reflect.Type {
	in := make([]reflect.Type, 0, len(sig.argTypes)+1)
	in = append(in, contextType)
	in = append(in, sig.argTypes...)
	var out []reflect.Type
	if sig.replyType != nil {
		out = []reflect.Type{sig.replyType, corerpc.ErrorType}
	} else {
		out = []reflect.Type{corerpc.ErrorType}
	}
	return reflect.FuncOf(in, out, false)
}

type handlerEntry struct {
	sig signature
	fn  reflect.Value
}

// Protocol is a registered set of handlers plus the serializer and
// middleware chain every one of them dispatches through. A Protocol is
// shared by one server and however many client stubs are built against
// it; the wire format it produces depends only on the serializer, never
// on whether a given verb happens to have a local handler.
type Protocol struct {
	Serializer corerpc.Serializer
	Logger     corerpc.Logger

	mu          sync.RWMutex
	handlers    map[corerpc.MessageType]*handlerEntry
	middlewares []corerpc.ThunkMiddleware
}

// NewProtocol creates a Protocol. logger may be nil, in which case
// corerpc.StdLogger{} is used.
func NewProtocol(serializer corerpc.Serializer, logger corerpc.Logger) *Protocol {
	if logger == nil {
		logger = corerpc.StdLogger{}
	}
	return &Protocol{
		Serializer: serializer,
		Logger:     logger,
		handlers:   make(map[corerpc.MessageType]*handlerEntry),
	}
}

// Use appends server-side middleware, applied in the order added: the
// first middleware added wraps outermost.
func (p *Protocol) Use(mw ...corerpc.ThunkMiddleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.middlewares = append(p.middlewares, mw...)
}

// RegisterHandler registers fn under t and returns a stub template: a
// typed nil function value whose signature mirrors fn's, minus any
// leading corerpc.ClientInfo parameter (the server injects that from the
// connection; a caller never supplies it), minus fn's own
// context.Context parameter (replaced by a stub-level context.Context
// every generated stub takes explicitly), and with any pointer-typed
// argument or *Reply return type unwrapped to its element type. Pass the
// template to MakeClient to get a callable stub bound to a particular
// corerpc.Caller. fn's shape must be:
//
//	func([context.Context] [, ClientInfo | *ClientInfo] [, args...]) (Reply, error)
//	func([context.Context] [, ClientInfo | *ClientInfo] [, args...]) error
//	func([context.Context] [, ClientInfo | *ClientInfo] [, args...])
//
// The third form is one-way: the server never sends a reply frame for it,
// and errors it raises are only logged.
func (p *Protocol) RegisterHandler(t corerpc.MessageType, fn any) (stubTemplate any, err error) {
	fnVal := reflect.ValueOf(fn)
	sig, err := parseSignature(fnVal.Type())
	if err != nil {
		return nil, err
	}
	entry := &handlerEntry{sig: sig, fn: fnVal}

	p.mu.Lock()
	if _, exists := p.handlers[t]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("registry: message type %d already registered", uint64(t))
	}
	p.handlers[t] = entry
	p.mu.Unlock()

	return reflect.Zero(sig.stubFuncType()).Interface(), nil
}

// MakeClient builds a client stub for MessageType t from a signature
// template alone, for a verb this process never registers a handler for
// (a pure client, or a different verb on the same wire than any local
// handler). Pass a zero value of the desired stub's func type, e.g.
// MakeClient(caller, serializer, t, (func(context.Context, int) (int, error))(nil)).
func MakeClient(caller corerpc.Caller, serializer corerpc.Serializer, t corerpc.MessageType, fnTemplate any) (any, error) {
	tmplType := reflect.TypeOf(fnTemplate)
	if tmplType == nil || tmplType.Kind() != reflect.Func {
		return nil, fmt.Errorf("registry: MakeClient template must be a function value")
	}
	if tmplType.NumIn() == 0 || tmplType.In(0) != contextType {
		return nil, fmt.Errorf("registry: MakeClient template's first parameter must be context.Context")
	}
	sig := signature{argTypes: make([]reflect.Type, tmplType.NumIn()-1)}
	for i := 1; i < tmplType.NumIn(); i++ {
		sig.argTypes[i-1] = tmplType.In(i)
	}
	switch tmplType.NumOut() {
	case 1:
		sig.wait = corerpc.Wait
	case 2:
		sig.replyType = tmplType.Out(0)
		sig.wait = corerpc.Wait
	default:
		return nil, fmt.Errorf("registry: MakeClient template must return (error) or (Reply, error)")
	}
	return buildClientStub(caller, serializer, t, sig), nil
}

// MakeClient builds a client stub for MessageType t against this
// Protocol's own serializer.
func (p *Protocol) MakeClient(caller corerpc.Caller, t corerpc.MessageType, fnTemplate any) (any, error) {
	return MakeClient(caller, p.Serializer, t, fnTemplate)
}

// Dispatch returns the Thunk for t wrapped in every middleware registered
// with Use, the registered WaitMode, and ok=false if t has no handler.
func (p *Protocol) Dispatch(t corerpc.MessageType) (thunk corerpc.Thunk, wait corerpc.WaitMode, ok bool) {
	p.mu.RLock()
	entry, found := p.handlers[t]
	mws := p.middlewares
	p.mu.RUnlock()
	if !found {
		return nil, corerpc.Wait, false
	}
	base := p.buildThunk(entry)
	for i := len(mws) - 1; i >= 0; i-- {
		base = mws[i](base)
	}
	return base, entry.sig.wait, true
}

func (p *Protocol) buildThunk(entry *handlerEntry) corerpc.Thunk {
	sig := entry.sig
	return func(ctx context.Context, info corerpc.ClientInfo, payload []byte) ([]byte, corerpc.WaitMode, error) {
		argVals, err := message.Unmarshal(p.Serializer, sig.argTypes, payload)
		if err != nil {
			return nil, sig.wait, err
		}
		call := make([]reflect.Value, 0, len(argVals)+2)
		if sig.wantsCtx {
			call = append(call, reflect.ValueOf(ctx))
		}
		if sig.wantsInfo {
			if sig.infoPointer {
				call = append(call, reflect.ValueOf(&info))
			} else {
				call = append(call, reflect.ValueOf(info))
			}
		}
		for i, v := range argVals {
			if i < len(sig.argIsPointer) && sig.argIsPointer[i] {
				ptr := reflect.New(v.Type())
				ptr.Elem().Set(v)
				call = append(call, ptr)
			} else {
				call = append(call, v)
			}
		}
		results := entry.fn.Call(call)

		if sig.wait == corerpc.NoWaitMode {
			return nil, corerpc.NoWaitMode, nil
		}
		var callErr error
		var replyVal reflect.Value
		if sig.replyType != nil {
			replyVal = results[0]
			if errIface := results[1].Interface(); errIface != nil {
				callErr = errIface.(error)
			}
		} else if errIface := results[0].Interface(); errIface != nil {
			callErr = errIface.(error)
		}
		if callErr != nil {
			return nil, corerpc.Wait, callErr
		}
		if sig.replyType == nil {
			return []byte{}, corerpc.Wait, nil
		}
		reply, err := message.Marshal(p.Serializer, 0, []reflect.Value{replyVal})
		if err != nil {
			return nil, corerpc.Wait, err
		}
		return reply, corerpc.Wait, nil
	}
}

func buildClientStub(caller corerpc.Caller, serializer corerpc.Serializer, t corerpc.MessageType, sig signature) any {
	stubType := sig.stubFuncType()
	fn := reflect.MakeFunc(stubType, func(args []reflect.Value) []reflect.Value {
		ctx := args[0].Interface().(context.Context)
		wireArgs := args[1:]
		payload, err := message.Marshal(serializer, 0, wireArgs)
		if err != nil {
			return errorResults(stubType, err)
		}
		reply, err := caller.Call(ctx, t, payload, sig.wait)
		if err != nil {
			return errorResults(stubType, err)
		}
		if sig.replyType == nil {
			return []reflect.Value{reflect.Zero(corerpc.ErrorType)}
		}
		vals, err := message.Unmarshal(serializer, []reflect.Type{sig.replyType}, reply)
		if err != nil {
			return errorResults(stubType, err)
		}
		return []reflect.Value{vals[0], reflect.Zero(corerpc.ErrorType)}
	})
	return fn.Interface()
}

func errorResults(stubType reflect.Type, err error) []reflect.Value {
	n := stubType.NumOut()
	out := make([]reflect.Value, n)
	for i := 0; i < n-1; i++ {
		out[i] = reflect.Zero(stubType.Out(i))
	}
	out[n-1] = reflect.ValueOf(err)
	return out
}
