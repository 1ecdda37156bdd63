//go:build !profile

package prof

import (
	"errors"
	"testing"
)

func TestStubRejectsProfiles(t *testing.T) {
	if Enabled {
		t.Fatal("Enabled = true without the profile tag")
	}
	if _, err := Start(Options{CPU: "cpu.prof"}); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("Start() error = %v, want %v", err, ErrNotEnabled)
	}
	s, err := Start(Options{})
	if err != nil {
		t.Fatalf("Start(empty) error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestProfileString(t *testing.T) {
	if got := ProfileHeap.String(); got != "heap" {
		t.Errorf("ProfileHeap.String() = %q", got)
	}
}
