package store_test

import (
	"testing"

	"github.com/warp/enrollment-engine/generic/store"
	"github.com/warp/enrollment-engine/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return store.NewMemory()
	})
}
