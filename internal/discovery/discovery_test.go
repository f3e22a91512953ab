package discovery

import (
	"reflect"
	"testing"
	"time"
)

func TestDedupePreservesOrder(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, []string{}},
		{"no duplicates", []string{"10.0.0.2", "10.0.0.3"}, []string{"10.0.0.2", "10.0.0.3"}},
		{"adjacent duplicates", []string{"10.0.0.2", "10.0.0.2"}, []string{"10.0.0.2"}},
		{
			"first occurrence wins",
			[]string{"10.0.0.3", "10.0.0.2", "10.0.0.3", "10.0.0.2"},
			[]string{"10.0.0.3", "10.0.0.2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Dedupe(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Dedupe(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBrowserEnforcesPoliteness(t *testing.T) {
	b := NewBrowser(time.Millisecond, time.Hour)

	// The first session consumes the single politeness token; a second
	// call before the interval elapses must be refused without touching
	// the network.
	if !b.limiter.Allow() {
		t.Fatal("first session must be admitted")
	}
	if b.limiter.Allow() {
		t.Fatal("second session inside the interval must be refused")
	}
}

func TestBrowserDefaults(t *testing.T) {
	b := NewBrowser(0, 0)
	if b.window != DefaultWindow {
		t.Fatalf("expected default window %v, got %v", DefaultWindow, b.window)
	}
}
