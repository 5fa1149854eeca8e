package memstore

import (
	"testing"

	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}
