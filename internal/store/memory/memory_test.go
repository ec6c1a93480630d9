package memory

import (
	"testing"

	"github.com/alanyoungcy/pairbot/internal/store/storetest"
)

func TestStores(t *testing.T) {
	storetest.Run(t, NewStores())
}
