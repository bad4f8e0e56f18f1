package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/syssam/metacatalog/internal/metrics"
	"github.com/syssam/metacatalog/internal/store"
)

var _ store.Recorder = metrics.Recorder{}

func TestObserveWrite_DoesNotPanicOnSuccessOrError(t *testing.T) {
	r := metrics.Recorder{}
	r.ObserveWrite("UpsertEntity", time.Millisecond, nil)
	r.ObserveWrite("UpsertEntity", time.Millisecond, errors.New("boom"))
}
