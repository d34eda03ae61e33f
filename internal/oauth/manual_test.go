package oauth

import (
	"errors"
	"testing"
)

func TestParseManualRedirect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		state   string
		want    string
		wantErr *AuthError
	}{
		{
			name:  "full redirect URL",
			input: "http://localhost:8085/oauth-callback?code=abc123&state=st",
			state: "st",
			want:  "abc123",
		},
		{
			name:  "bare query string",
			input: "code=abc123&state=st",
			state: "st",
			want:  "abc123",
		},
		{
			name:  "surrounding whitespace",
			input: "  http://localhost:8085/oauth-callback?code=abc123&state=st \n",
			state: "st",
			want:  "abc123",
		},
		{
			name:  "fragment stripped",
			input: "http://localhost:8085/oauth-callback?code=abc123&state=st#section",
			state: "st",
			want:  "abc123",
		},
		{
			name:    "missing code",
			input:   "http://localhost:8085/oauth-callback?state=st",
			state:   "st",
			wantErr: ErrMalformedInput,
		},
		{
			name:    "empty input",
			input:   "",
			state:   "st",
			wantErr: ErrMalformedInput,
		},
		{
			name:    "state mismatch",
			input:   "http://localhost:8085/oauth-callback?code=abc123&state=other",
			state:   "st",
			wantErr: ErrStateMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := ParseManualRedirect(tt.input, tt.state)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseManualRedirect: %v", err)
			}
			if code != tt.want {
				t.Fatalf("got code %q, want %q", code, tt.want)
			}
		})
	}
}
