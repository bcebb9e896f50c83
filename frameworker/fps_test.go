package frameworker

import (
	"testing"
	"time"
)

func TestFPSMeterSteadyRate(t *testing.T) {
	m := newFPSMeter(5)
	t0 := time.Unix(0, 0)
	for i := 0; i < 12; i++ {
		m.Mark(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	now := t0.Add(1150 * time.Millisecond)
	if fps := m.Rate(now, time.Second); fps < 9.99 || fps > 10.01 {
		t.Errorf("expected 10 fps, got %v", fps)
	}
}

func TestFPSMeterPartialWindow(t *testing.T) {
	m := newFPSMeter(30)
	t0 := time.Unix(0, 0)
	m.Mark(t0)
	if fps := m.Rate(t0, time.Second); fps != 0 {
		t.Errorf("expected 0 fps from a single frame, got %v", fps)
	}
	m.Mark(t0.Add(50 * time.Millisecond))
	m.Mark(t0.Add(100 * time.Millisecond))
	if fps := m.Rate(t0.Add(100*time.Millisecond), time.Second); fps < 19.99 || fps > 20.01 {
		t.Errorf("expected 20 fps, got %v", fps)
	}
}

func TestFPSMeterStale(t *testing.T) {
	m := newFPSMeter(4)
	t0 := time.Unix(0, 0)
	m.Mark(t0)
	m.Mark(t0.Add(time.Millisecond))
	if fps := m.Rate(t0.Add(3*time.Second), time.Second); fps != -1 {
		t.Errorf("expected -1 for a stale stream, got %v", fps)
	}
	if fps := newFPSMeter(4).Rate(t0, time.Second); fps != -1 {
		t.Errorf("expected -1 for an empty meter, got %v", fps)
	}
}
