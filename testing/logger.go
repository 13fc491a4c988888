package testing

import (
	"testing"

	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/types"
)

// NewTestLogger returns a logger that writes through tb.Logf, so output shows
// next to the test that produced it.
func NewTestLogger(tb testing.TB) types.Logger {
	return logging.NewTest(tb)
}
