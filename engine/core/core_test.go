package core

import "testing"

func TestIdentifierPoolRecyclesIDs(t *testing.T) {
	p := NewIdentifierPool(4)
	a := p.Acquire("a")
	b := p.Acquire("b")
	if a == 0 || b == 0 {
		t.Fatalf("id 0 is reserved, got a=%d b=%d", a, b)
	}
	if a == b {
		t.Fatalf("ids must be unique, both %d", a)
	}
	if err := p.Release(a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.Release(a); err == nil {
		t.Errorf("double release must fail")
	}
	if c := p.Acquire("c"); c != a {
		t.Errorf("expected freed id %d to be reused, got %d", a, c)
	}
	if p.Live() != 2 {
		t.Errorf("expected 2 live ids, got %d", p.Live())
	}
	if err := p.Release(0); err == nil {
		t.Errorf("releasing id 0 must fail")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
	if got := Clamp(float32(1.5), 0, 1); got != 1 {
		t.Errorf("float clamp: got %f", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel("debug") != DebugLevel {
		t.Errorf("expected debug level")
	}
	if ParseLogLevel(" WARN ") != WarnLevel {
		t.Errorf("expected warn level")
	}
	if ParseLogLevel("nonsense") != InfoLevel {
		t.Errorf("unknown names must fall back to info")
	}
}

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	if ft := m.FrameTime(); ft < 15.9 || ft > 16.1 {
		t.Errorf("expected ~16ms average, got %f", ft)
	}
}
