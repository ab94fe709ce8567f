package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

// token builds an unsigned JWT carrying the given claims.
func token(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := map[string]any{"alg": "RS256", "typ": "JWT"}
	return enc(header) + "." + enc(claims) + ".c2lnbmF0dXJl"
}

func TestFromBearer(t *testing.T) {
	cases := []struct {
		name     string
		claims   map[string]any
		wantID   string
		wantName string
	}{
		{
			name:     "cognito username wins over sub",
			claims:   map[string]any{"cognito:username": "jdoe", "sub": "abc123", "given_name": "Jane"},
			wantID:   "jdoe",
			wantName: "Jane",
		},
		{
			name:     "name claim",
			claims:   map[string]any{"sub": "abc123", "name": "Jane Doe"},
			wantID:   "abc123",
			wantName: "Jane Doe",
		},
		{
			name:     "email local part becomes title-cased name",
			claims:   map[string]any{"email": "jane.doe@example.com"},
			wantID:   "jane.doe@example.com",
			wantName: "Jane Doe",
		},
		{
			name:     "underscore email local part",
			claims:   map[string]any{"sub": "s1", "email": "jane_q_doe@example.com"},
			wantID:   "s1",
			wantName: "Jane Q Doe",
		},
		{
			name:     "uuid sub with no profile claims",
			claims:   map[string]any{"sub": "a81bc81b-dead-4e5d-abff-90865d1e13b1"},
			wantID:   "a81bc81b-dead-4e5d-abff-90865d1e13b1",
			wantName: "User a81bc81b",
		},
		{
			name:     "opaque sub used verbatim",
			claims:   map[string]any{"sub": "service-account-7"},
			wantID:   "service-account-7",
			wantName: "service-account-7",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			id, err := FromBearer(token(t, c.claims))
			if err != nil {
				t.Fatalf("FromBearer: %v", err)
			}
			if id.UserID != c.wantID {
				t.Errorf("UserID = %q, want %q", id.UserID, c.wantID)
			}
			if id.DisplayName != c.wantName {
				t.Errorf("DisplayName = %q, want %q", id.DisplayName, c.wantName)
			}
		})
	}
}

func TestFromBearerRejectsBadTokens(t *testing.T) {
	if _, err := FromBearer("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := FromBearer(token(t, map[string]any{"aud": "nothing-useful"})); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
