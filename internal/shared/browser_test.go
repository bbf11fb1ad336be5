package shared

import (
	"errors"
	"testing"
)

func TestBrowserCommand(t *testing.T) {
	tests := []struct {
		goos    string
		program string
		wantErr bool
	}{
		{goos: "darwin", program: "open"},
		{goos: "linux", program: "xdg-open"},
		{goos: "windows", program: "rundll32"},
		{goos: "plan9", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			cmd, err := browserCommand(tt.goos, "https://accounts.spotify.com/authorize")
			if tt.wantErr {
				if !errors.Is(err, ErrNotImplemented) {
					t.Errorf("expected ErrNotImplemented, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Args[0] != tt.program {
				t.Errorf("expected %s, got %s", tt.program, cmd.Args[0])
			}
			if last := cmd.Args[len(cmd.Args)-1]; last != "https://accounts.spotify.com/authorize" {
				t.Errorf("url not passed through, got %s", last)
			}
		})
	}
}
