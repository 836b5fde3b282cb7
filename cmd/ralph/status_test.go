package main

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h30m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n        int
		expected string
	}{
		{0, "0"},
		{42, "42"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}

	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.expected {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.expected)
		}
	}
}
