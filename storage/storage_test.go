package storage

import "testing"

func TestObjectKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"uploads/audio-1.wav", "uploads/audio-1.wav"},
		{"./uploads/audio-1.wav", "uploads/audio-1.wav"},
		{"/srv/uploads/a.mp3", "srv/uploads/a.mp3"},
		{"uploads//nested/../b.flac", "uploads/b.flac"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.in); got != tt.want {
			t.Errorf("ObjectKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"take.WAV":  "audio/wav",
		"mix.mp3":   "audio/mpeg",
		"stem.flac": "audio/flac",
		"notes.txt": "application/octet-stream",
		"noext":     "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentTypeFor(name); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.size); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestExtensionOf(t *testing.T) {
	if got := extensionOf("uploads/a.WAV"); got != "wav" {
		t.Errorf("got %q", got)
	}
	if got := extensionOf("uploads/README"); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
