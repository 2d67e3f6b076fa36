package normalize

import "testing"

func TestToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Clip.MOV  ", "clip.mov"},
		{"​Stream\uFEFF", "stream"},
		{"already-lower", "already-lower"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Token(tt.in); got != tt.want {
			t.Errorf("Token(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Café_Recörding", "cafe_recording"},
		{"UPPER", "upper"},
		{"naïve clip", "naive clip"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapHashDeterministic(t *testing.T) {
	a := map[string]interface{}{"container": "mov", "faststart": true, "n": 3}
	b := map[string]interface{}{"n": 3, "faststart": true, "container": "mov"}

	ha, err := MapHash(a)
	if err != nil {
		t.Fatalf("MapHash: %v", err)
	}
	hb, err := MapHash(b)
	if err != nil {
		t.Fatalf("MapHash: %v", err)
	}
	if ha != hb {
		t.Errorf("hash should be key-order independent: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("expected sha256 hex length 64, got %d", len(ha))
	}
}

func TestMapHashEmpty(t *testing.T) {
	h, err := MapHash(nil)
	if err != nil {
		t.Fatalf("MapHash(nil): %v", err)
	}
	if h != "" {
		t.Errorf("empty map should hash to empty string, got %q", h)
	}
}
