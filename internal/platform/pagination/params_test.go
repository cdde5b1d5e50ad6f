package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFromRequest(t *testing.T) {
	cases := []struct {
		name  string
		query string
		size  int
		err   error
	}{
		{"defaults", "", DefaultPageSize, nil},
		{"explicit", "?pageSize=5", 5, nil},
		{"clamped", "?pageSize=1000", MaxPageSize, nil},
		{"zero", "?pageSize=0", 0, ErrInvalidPageSize},
		{"not a number", "?pageSize=ten", 0, ErrInvalidPageSize},
		{"bad token", "?pageToken=%25%25", 0, ErrInvalidPageToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params, err := FromRequest(httptest.NewRequest("GET", "/admin/orders"+tc.query, nil))
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if params.PageSize != tc.size {
				t.Fatalf("expected size %d, got %d", tc.size, params.PageSize)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC), ID: "01HZX3AB"}
	token := EncodeToken(cursor)

	params, err := FromRequest(httptest.NewRequest("GET", "/admin/orders?pageToken="+token, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeToken(params.PageToken)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !got.CreatedAt.Equal(cursor.CreatedAt) || got.ID != cursor.ID {
		t.Fatalf("unexpected cursor %+v", got)
	}
}
