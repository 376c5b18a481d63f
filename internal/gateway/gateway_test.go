package gateway

import "testing"

func TestParseSnowflake(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"123456789012345678", 123456789012345678, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseSnowflake(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseSnowflake(%q) = (%d, %v), want (%d, %v)",
				tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
