package entity

import "testing"

func TestIsE164(t *testing.T) {
	cases := []struct {
		phone string
		want  bool
	}{
		{"+14155552671", true},
		{"+447911123456", true},
		{"+1", false},
		{"14155552671", false},
		{"+0123456789", false}, // leading digit after + cannot be 0
		{"+1234567890123456", false}, // 16 digits, over the 15-digit cap
		{"", false},
		{"not-a-phone", false},
		{"+1 415 555 2671", false},
	}

	for _, tc := range cases {
		if got := IsE164(tc.phone); got != tc.want {
			t.Errorf("IsE164(%q) = %v, want %v", tc.phone, got, tc.want)
		}
	}
}
