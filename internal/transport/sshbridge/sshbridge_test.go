package sshbridge

import (
	"path/filepath"
	"testing"
)

func TestAuthMethodsRequiresPasswordOrKey(t *testing.T) {
	tr := New(Config{Host: "host", Port: 22, User: "u"}, nil)
	if _, err := tr.authMethods(); err == nil {
		t.Fatal("expected error when neither password nor key is configured")
	}
}

func TestAuthMethodsAcceptsPassword(t *testing.T) {
	tr := New(Config{Host: "host", Port: 22, User: "u", Password: "secret"}, nil)
	auth, err := tr.authMethods()
	if err != nil {
		t.Fatalf("authMethods() returned error: %v", err)
	}
	if len(auth) != 1 {
		t.Fatalf("expected 1 auth method, got %d", len(auth))
	}
}

func TestAuthMethodsRejectsMissingKeyFile(t *testing.T) {
	tr := New(Config{Host: "host", Port: 22, User: "u", KeyPath: filepath.Join(t.TempDir(), "missing")}, nil)
	if _, err := tr.authMethods(); err == nil {
		t.Fatal("expected error for a key file that does not exist")
	}
}
