package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionObserver(t *testing.T) {
	var obs SessionObserver

	activeBefore := testutil.ToFloat64(SessionsActive)
	obs.SessionStarted()
	if got := testutil.ToFloat64(SessionsActive); got != activeBefore+1 {
		t.Errorf("sessions_active = %f, want %f", got, activeBefore+1)
	}

	matchedBefore := testutil.ToFloat64(TargetsMatchedTotal)
	okBefore := testutil.ToFloat64(FramesTotal.WithLabelValues("ok"))
	obs.FrameProcessed("ok", 20*time.Millisecond, 2)
	obs.FrameProcessed("decode_error", time.Millisecond, 0)
	if got := testutil.ToFloat64(FramesTotal.WithLabelValues("ok")); got != okBefore+1 {
		t.Errorf("frames_total{ok} = %f", got)
	}
	if got := testutil.ToFloat64(TargetsMatchedTotal); got != matchedBefore+2 {
		t.Errorf("targets_matched_total = %f", got)
	}

	obs.CatalogLoaded(5*time.Millisecond, 3, nil)
	obs.CatalogLoaded(time.Millisecond, 0, errors.New("missing"))
	if testutil.CollectAndCount(CatalogLoadSeconds) != 2 {
		t.Error("catalog_load_seconds 应有 ok 和 error 两个序列")
	}

	closedBefore := testutil.ToFloat64(SessionsTotal.WithLabelValues("closed"))
	obs.SessionEnded("closed")
	if got := testutil.ToFloat64(SessionsActive); got != activeBefore {
		t.Errorf("会话结束后 sessions_active = %f", got)
	}
	if got := testutil.ToFloat64(SessionsTotal.WithLabelValues("closed")); got != closedBefore+1 {
		t.Errorf("sessions_total{closed} = %f", got)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	Register()
	Register()
}
