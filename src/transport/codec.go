package transport

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"

	"github.com/ugorji/go/codec"
)

// Packet is the datagram sent over UDP. The sender is not part of it; the
// receiver takes it from the UDP header.
type Packet struct {
	Pid  int32  `codec:"p"`
	Kind string `codec:"k"`
	Body []byte `codec:"b"`
}

// UnknownKindError is returned when decoding a payload whose kind was never
// registered, or encoding a payload of an unregistered type.
type UnknownKindError struct {
	Kind string
}

// Error ...
func (e UnknownKindError) Error() string {
	return fmt.Sprintf("unknown payload kind %q", e.Kind)
}

var (
	mh = newMsgpackHandle()

	registryLock sync.RWMutex
	kindTypes    = make(map[string]reflect.Type)
	typeKinds    = make(map[reflect.Type]string)
)

func newMsgpackHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.RawToString = true
	h.WriteExt = true
	return h
}

// RegisterPayload makes values of sample's type transmissible over UDP under
// the name kind. Registering the same pair twice is harmless; reusing a kind
// for another type panics.
func RegisterPayload(kind string, sample interface{}) {
	t := reflect.TypeOf(sample)

	registryLock.Lock()
	defer registryLock.Unlock()

	if prev, ok := kindTypes[kind]; ok && prev != t {
		panic(fmt.Sprintf("payload kind %q already registered for %v", kind, prev))
	}
	kindTypes[kind] = t
	typeKinds[t] = kind
}

// PayloadKind returns the kind payload was registered under.
func PayloadKind(payload interface{}) (string, bool) {
	registryLock.RLock()
	defer registryLock.RUnlock()
	k, ok := typeKinds[reflect.TypeOf(payload)]
	return k, ok
}

func encode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, mh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewBuffer(data), mh)
	return dec.Decode(v)
}

// MarshalPayload encodes a registered payload on its own and returns the kind
// it was registered under.
func MarshalPayload(payload interface{}) (string, []byte, error) {
	kind, ok := PayloadKind(payload)
	if !ok {
		return "", nil, UnknownKindError{reflect.TypeOf(payload).String()}
	}

	body, err := encode(payload)
	if err != nil {
		return "", nil, err
	}
	return kind, body, nil
}

// UnmarshalPayload decodes body into a value of the type registered as kind.
func UnmarshalPayload(kind string, body []byte) (interface{}, error) {
	registryLock.RLock()
	t, ok := kindTypes[kind]
	registryLock.RUnlock()
	if !ok {
		return nil, UnknownKindError{kind}
	}

	var ptr reflect.Value
	if t.Kind() == reflect.Ptr {
		ptr = reflect.New(t.Elem())
	} else {
		ptr = reflect.New(t)
	}
	if err := decode(body, ptr.Interface()); err != nil {
		return nil, err
	}

	if t.Kind() == reflect.Ptr {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

// MarshalPacket encodes (pid, payload) into a datagram.
func MarshalPacket(pid int, payload interface{}) ([]byte, error) {
	kind, body, err := MarshalPayload(payload)
	if err != nil {
		return nil, err
	}

	return encode(&Packet{
		Pid:  int32(pid),
		Kind: kind,
		Body: body,
	})
}

// UnmarshalPacket decodes a datagram into (pid, payload). The payload has the
// type it was registered with.
func UnmarshalPacket(data []byte) (int, interface{}, error) {
	var p Packet
	if err := decode(data, &p); err != nil {
		return 0, nil, err
	}

	payload, err := UnmarshalPayload(p.Kind, p.Body)
	if err != nil {
		return 0, nil, err
	}
	return int(p.Pid), payload, nil
}
