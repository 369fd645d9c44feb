package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"carousel.org/internal/domain"
)

func TestGetDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/identity/level" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("email"); got != "a@b.test" {
			t.Errorf("unexpected query %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_level": "Admin"})
	}))
	defer srv.Close()

	c, err := NewCaller(srv.URL, "identity")
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	var out struct {
		Level string `json:"access_level"`
	}
	q := url.Values{"email": {"a@b.test"}}
	if err := c.Get(context.Background(), "account_level", "/internal/identity/level", q, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Level != "Admin" {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		var in struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email != "a@b.test" {
			t.Errorf("bad body: %v %+v", err, in)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := NewCaller(srv.URL, "roles")
	in := map[string]string{"email": "a@b.test"}
	if err := c.Post(context.Background(), "assign_default", "/internal/roles/assign-default", in, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

func TestStatusCodesMapToDomainErrors(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrConflict},
		{http.StatusForbidden, domain.ErrForbidden},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusInternalServerError, domain.ErrInternal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		c, _ := NewCaller(srv.URL, "identity")
		err := c.Get(context.Background(), "op", "/x", nil, nil)
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d mapped to %v, want %v", tc.code, err, tc.want)
		}
	}
}

func TestTransportFailureIsInternal(t *testing.T) {
	c, _ := NewCaller("http://127.0.0.1:1", "identity")
	err := c.Get(context.Background(), "op", "/x", nil, nil)
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}
