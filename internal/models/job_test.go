package models

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to JobStatus }{
		{StatusPending, StatusScheduled},
		{StatusPending, StatusRunning},
		{StatusPending, StatusCancelled},
		{StatusScheduled, StatusRunning},
		{StatusScheduled, StatusCancelled},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to JobStatus }{
		{StatusCompleted, StatusRunning},
		{StatusCompleted, StatusCancelled},
		{StatusFailed, StatusRunning},
		{StatusCancelled, StatusRunning},
		{StatusPending, StatusCompleted},
		{StatusScheduled, StatusFailed},
		{StatusRunning, StatusPending},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []JobStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []JobStatus{StatusPending, StatusScheduled, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}
