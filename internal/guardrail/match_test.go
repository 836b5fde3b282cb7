package guardrail

import "testing"

func TestMatchGlobPattern(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		pattern  string
		expected bool
	}{
		{"double star matches deep path", "tests/unit/sub/test_x.py", "tests/**", true},
		{"double star with suffix", "tests/unit/test_x.py", "tests/**/*.py", true},
		{"literal match", "tests/conftest.py", "tests/conftest.py", true},
		{"single star in segment", "tests/test_x.py", "tests/*.py", true},
		{"no match - different root", "src/app.py", "tests/**", false},
		{"no match - wrong extension", "tests/notes.txt", "tests/**/*.py", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := matchGlobPattern(tc.path, tc.pattern)
			if result != tc.expected {
				t.Errorf("matchGlobPattern(%q, %q) = %v, expected %v", tc.path, tc.pattern, result, tc.expected)
			}
		})
	}
}

func TestBaseDir(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"tests/**", "tests"},
		{"test/**/*.py", "test"},
		{"*.py", ""},
		{"tests/unit/*.py", "tests"},
	}
	for _, tc := range tests {
		if got := baseDir(tc.pattern); got != tc.want {
			t.Errorf("baseDir(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}
