package common

import (
	"errors"
	"testing"
)

func TestIsStore(t *testing.T) {
	err := NewStoreErr("IDStore", KeyNotFound, "127.0.0.1:4000")

	if !IsStore(err, KeyNotFound) {
		t.Fatalf("expected KeyNotFound")
	}
	if IsStore(err, Closed) {
		t.Fatalf("did not expect Closed")
	}
	if IsStore(errors.New("other"), KeyNotFound) {
		t.Fatalf("plain errors are not store errors")
	}
	if err.Error() != "IDStore, 127.0.0.1:4000, Not Found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
