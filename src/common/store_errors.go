package common

import "fmt"

// StoreErrType classifies the failures of key/value stores.
type StoreErrType uint32

const (
	// KeyNotFound is returned by lookups of absent keys.
	KeyNotFound StoreErrType = iota
	// Closed is returned by stores used after Close.
	Closed
	// Corrupted is returned when a stored value cannot be decoded.
	Corrupted
)

func (t StoreErrType) String() string {
	switch t {
	case KeyNotFound:
		return "Not Found"
	case Closed:
		return "Closed"
	case Corrupted:
		return "Corrupted"
	default:
		return "Unknown"
	}
}

// StoreErr is a store failure on one key.
type StoreErr struct {
	store   string
	errType StoreErrType
	key     string
}

// NewStoreErr ...
func NewStoreErr(store string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		store:   store,
		errType: errType,
		key:     key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	return fmt.Sprintf("%s, %s, %s", e.store, e.key, e.errType)
}

// IsStore reports whether err is a StoreErr of type t.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
