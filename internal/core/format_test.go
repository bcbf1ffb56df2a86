package core

import "testing"

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{-5, "0 B"},
		{999, "999 B"},
		{4096, "4.1 kB"},
		{12_000_000, "12 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Fatalf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortenPath(t *testing.T) {
	if got := ShortenPath("/Applications/Foo.app", 40); got != "/Applications/Foo.app" {
		t.Fatalf("short path changed: %q", got)
	}
	got := ShortenPath("/Applications/Foo.app/Contents/Resources/de.lproj", 20)
	if got != "…/Resources/de.lproj" {
		t.Fatalf("ShortenPath = %q", got)
	}
}
