package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSignerSign(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crypto/v1/_sign" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Value != "hunter2" {
			t.Errorf("value = %q", req.Value)
		}
		json.NewEncoder(w).Encode(signResponse{Signature: "deadbeef"})
	}))
	defer server.Close()

	signer := NewEncryptionSigner(server.Client(), server.URL)
	signature, err := signer.Sign(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if signature != "deadbeef" {
		t.Errorf("signature = %q", signature)
	}
}

func TestSignerVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crypto/v1/_verify" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(verifyResponse{
			Verified: req.Value == "hunter2" && req.Signature == "deadbeef",
		})
	}))
	defer server.Close()

	signer := NewEncryptionSigner(server.Client(), server.URL)

	ok, err := signer.Verify(context.Background(), "hunter2", "deadbeef")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("valid signature rejected")
	}

	ok, err = signer.Verify(context.Background(), "wrong", "deadbeef")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("invalid signature accepted")
	}
}

func TestSignerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer server.Close()

	signer := NewEncryptionSigner(server.Client(), server.URL)

	if _, err := signer.Sign(context.Background(), "x"); err == nil {
		t.Error("Sign: expected error on 500")
	}
	if _, err := signer.Verify(context.Background(), "x", "y"); err == nil {
		t.Error("Verify: expected error on 500")
	}
}

func TestSignerUnreachable(t *testing.T) {
	// Closed server: the transport error must surface to the caller.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	signer := NewEncryptionSigner(http.DefaultClient, server.URL)
	if _, err := signer.Verify(context.Background(), "x", "y"); err == nil {
		t.Error("expected transport error")
	}
}

func TestRolesActiveOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mdms/v1/_search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req mdmsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Criteria.TenantID != "default" {
			t.Errorf("tenantId = %q", req.Criteria.TenantID)
		}
		if req.Criteria.ModuleName != "UserRoles" {
			t.Errorf("moduleName = %q", req.Criteria.ModuleName)
		}
		if req.Criteria.MasterName != "roles" {
			t.Errorf("masterName = %q", req.Criteria.MasterName)
		}
		json.NewEncoder(w).Encode(mdmsResponse{Roles: []mdmsRole{
			{Code: "admin", Active: true},
			{Code: "user", Active: true},
			{Code: "retired_role", Active: false},
		}})
	}))
	defer server.Close()

	registry := NewMDMSRoleRegistry(server.Client(), server.URL, "UserRoles")
	roles, err := registry.Roles(context.Background(), "default")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("roles = %v, want active only", roles)
	}
	for _, role := range roles {
		if role == "retired_role" {
			t.Error("inactive role included")
		}
	}
}

func TestIDGenNext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/egov-idgen/id/_generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req idGenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Requests) != 1 {
			t.Fatalf("requests = %d, want 1", len(req.Requests))
		}
		if req.Requests[0].IDName != "user.id" {
			t.Errorf("idName = %q", req.Requests[0].IDName)
		}
		if req.Requests[0].Count != 1 {
			t.Errorf("count = %d", req.Requests[0].Count)
		}
		json.NewEncoder(w).Encode(idGenResponse{IDResponses: []idResponse{{ID: "USER-2026-000042"}}})
	}))
	defer server.Close()

	idgen := NewIDGenClient(server.Client(), server.URL, "USER-[fy:yyyy]-[SEQ]")
	id, err := idgen.Next(context.Background(), "default", "user.id")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if id != "USER-2026-000042" {
		t.Errorf("id = %q", id)
	}
}

func TestIDGenEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(idGenResponse{})
	}))
	defer server.Close()

	idgen := NewIDGenClient(server.Client(), server.URL, "USER-[fy:yyyy]-[SEQ]")
	if _, err := idgen.Next(context.Background(), "default", "user.id"); err == nil {
		t.Error("expected error on empty response")
	}
}

func TestPostJSONErrorExcerpt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	err := postJSON(context.Background(), server.Client(), server.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("error = %v, want status and body excerpt", err)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		host string
		path string
		want string
	}{
		{"http://enc:8080", "/crypto/v1/_sign", "http://enc:8080/crypto/v1/_sign"},
		{"http://enc:8080/", "/crypto/v1/_sign", "http://enc:8080/crypto/v1/_sign"},
	}
	for _, tt := range tests {
		if got := joinURL(tt.host, tt.path); got != tt.want {
			t.Errorf("joinURL(%q, %q) = %q, want %q", tt.host, tt.path, got, tt.want)
		}
	}
}
