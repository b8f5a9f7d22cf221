package capture

import "testing"

func TestIsAdDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"doubleclick.net", true},
		{"stats.g.doubleclick.net", true},
		{"pagead2.googlesyndication.com", true},
		{"CDN.Taboola.com", true},
		{"doubleclick.net.", true},
		{"example.com", false},
		{"notdoubleclick.net", false},
		{"net", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()
			if got := isAdDomain(tt.host); got != tt.want {
				t.Errorf("isAdDomain(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
