package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a minimal config file and returns its path.
func writeConfig(t *testing.T, dbPath string, port int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
site:
  name: Test Home

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d

auth:
  jwt_secret: %q
`, dbPath, port, testSecret)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// TestServe_InvalidConfig verifies serve fails with a missing config file.
func TestServe_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := serve(ctx, &options{configPath: "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("serve() should fail with invalid config path")
	}
}

// TestServe_MissingDatabasePath verifies validation runs before anything opens.
func TestServe_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, "", 8123)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := serve(ctx, &options{configPath: path})
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("serve() error = %v, want database.path validation error", err)
	}
}

// TestServe_StartupAndShutdown runs the hub until its context expires.
func TestServe_StartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, filepath.Join(tmpDir, "hub.db"), freePort(t))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := serve(ctx, &options{configPath: path}); err != nil {
		t.Fatalf("serve() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "hub.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestServe_PortInUse verifies a bind failure is reported.
func TestServe_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	path := writeConfig(t, filepath.Join(t.TempDir(), "hub.db"), ln.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := serve(ctx, &options{configPath: path, ephemeral: true}); err == nil {
		t.Fatal("serve() should fail when the port is taken")
	}
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, filepath.Join(t.TempDir(), "hub.db"), 8123)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--config", path, "--user", "installer", "--name", "Installer", "--ttl", "1h"})
	if err := root.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "installer" || claims.Name != "Installer" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "grayhub "+version) {
		t.Errorf("version output = %q", out.String())
	}
}
