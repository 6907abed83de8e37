package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterLicense(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/organizations/licenses" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		gotKey = req["Key"]
		json.NewEncoder(w).Encode(map[string]string{"Token": "device-token-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	token, err := c.RegisterLicense(context.Background(), "license-key", "test device")
	if err != nil {
		t.Fatalf("RegisterLicense() error = %v", err)
	}
	if token != "device-token-1" {
		t.Errorf("token = %q, want %q", token, "device-token-1")
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want unauthenticated", gotAuth)
	}
	if gotKey != "license-key" {
		t.Errorf("Key = %q, want %q", gotKey, "license-key")
	}
}

func TestRegisterLicenseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"Code": "LICENSE_NOT_VALID"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.RegisterLicense(context.Background(), "bad", "device")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *api.Error", err)
	}
	if apiErr.Code != "LICENSE_NOT_VALID" {
		t.Errorf("Code = %q, want LICENSE_NOT_VALID", apiErr.Code)
	}
}

func TestLoginUserCodes(t *testing.T) {
	tests := []struct {
		name     string
		respBody map[string]string
		status   int
		wantCode string
	}{
		{"invalid_user", map[string]string{"Code": CodeInvalidUser}, http.StatusOK, CodeInvalidUser},
		{"invalid_password", map[string]string{"Code": CodeInvalidPassword}, http.StatusUnauthorized, CodeInvalidPassword},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(tc.respBody)
			}))
			defer srv.Close()

			c := New(srv.URL)
			_, err := c.LoginUser(context.Background(), "dev-token", "a@b.c", "pw")
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *api.Error", err)
			}
			if apiErr.Code != tc.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tc.wantCode)
			}
		})
	}
}

func TestLoginUserSuccessUsesDeviceToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer dev-token" {
			t.Errorf("Authorization = %q, want Bearer dev-token", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"Token": "user-token"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	token, err := c.LoginUser(context.Background(), "dev-token", "a@b.c", "pw")
	if err != nil {
		t.Fatalf("LoginUser() error = %v", err)
	}
	if token != "user-token" {
		t.Errorf("token = %q, want user-token", token)
	}
}

func TestCreateUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data UserData
		json.NewDecoder(r.Body).Decode(&data)
		if data.Email != "a@b.c" {
			t.Errorf("Email = %q, want a@b.c", data.Email)
		}
		json.NewEncoder(w).Encode(map[string]string{"ID": "user-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	id, err := c.CreateUser(context.Background(), "dev-token", UserData{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if id != "user-1" {
		t.Errorf("id = %q, want user-1", id)
	}
}

func TestRetrieveUserUsesClientToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q, want Bearer user-token", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"FirstName": "Pat"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("user-token"))
	user, err := c.RetrieveUser(context.Background())
	if err != nil {
		t.Fatalf("RetrieveUser() error = %v", err)
	}
	if user["FirstName"] != "Pat" {
		t.Errorf("FirstName = %v, want Pat", user["FirstName"])
	}
}

func TestSetToken(t *testing.T) {
	c := New("http://example.invalid", WithToken("one"))
	if got := c.Token(); got != "one" {
		t.Errorf("Token() = %q, want one", got)
	}
	c.SetToken("two")
	if got := c.Token(); got != "two" {
		t.Errorf("Token() = %q, want two", got)
	}
}
