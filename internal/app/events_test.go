package app

import "testing"

func TestParseDirection(t *testing.T) {
	tests := []struct {
		side    string
		dir     string
		want    Direction
		wantErr bool
	}{
		{"B", "Open Long", DirectionLong, false},
		{"A", "Open Short", DirectionShort, false},
		{"B", "Close Short", DirectionShort, false},
		{"A", "Close Long", DirectionLong, false},
		{"B", "", DirectionLong, false},
		{"A", "", DirectionShort, false},
		{"buy", "", DirectionLong, false},
		{"sell", "", DirectionShort, false},
		{"", "", "", true},
		{"x", "weird", "", true},
	}

	for _, tt := range tests {
		got, err := parseDirection(tt.side, tt.dir)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDirection(%q, %q) expected error, got %v", tt.side, tt.dir, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDirection(%q, %q) unexpected error: %v", tt.side, tt.dir, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDirection(%q, %q) = %v, want %v", tt.side, tt.dir, got, tt.want)
		}
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		dir  string
		want Action
	}{
		{"Open Long", ActionOpen},
		{"Close Long", ActionClose},
		{"Close Short", ActionClose},
		{"", ActionOpen},
		{"Buy", ActionOpen},
	}

	for _, tt := range tests {
		if got := parseAction(tt.dir); got != tt.want {
			t.Errorf("parseAction(%q) = %v, want %v", tt.dir, got, tt.want)
		}
	}
}

func TestSignedSize(t *testing.T) {
	tests := []struct {
		direction Direction
		action    Action
		size      float64
		want      float64
	}{
		{DirectionLong, ActionOpen, 10, 10},
		{DirectionShort, ActionOpen, 10, -10},
		{DirectionLong, ActionClose, 10, -10},
		{DirectionShort, ActionClose, 10, 10},
	}

	for _, tt := range tests {
		if got := signedSize(tt.direction, tt.action, tt.size); got != tt.want {
			t.Errorf("signedSize(%v, %v, %v) = %v, want %v",
				tt.direction, tt.action, tt.size, got, tt.want)
		}
	}
}
