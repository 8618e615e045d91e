// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RequiresUsbsasConfig(t *testing.T) {
	origConfig := os.Getenv("USBSAS_CONFIG")
	defer os.Setenv("USBSAS_CONFIG", origConfig)

	os.Unsetenv("USBSAS_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when USBSAS_CONFIG not set, got nil")
	}

	expectedMsg := "USBSAS_CONFIG environment variable not set"
	if len(err.Error()) < len(expectedMsg) || err.Error()[:len(expectedMsg)] != expectedMsg {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithUsbsasConfig(t *testing.T) {
	origConfig := os.Getenv("USBSAS_CONFIG")
	defer os.Setenv("USBSAS_CONFIG", origConfig)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "usbsas.yaml")

	configContent := `
out_directory: /test/out
window_title: usbsas
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	os.Setenv("USBSAS_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.OutDirectory != "/test/out" {
		t.Errorf("expected out_directory=/test/out, got %s", cfg.OutDirectory)
	}
	if cfg.WindowTitle != "usbsas" {
		t.Errorf("expected window_title=usbsas, got %s", cfg.WindowTitle)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "usbsas.yaml")

	configContent := `
out_directory: /custom/out
window_title: custom title
lang: fr

networks:
  - description: "upload"
    url: "https://dest.example/upload"
    krb_service_name: "HTTP@dest.example"

source_network:
  description: "download"
  url: "https://src.example/download"

command:
  description: "fax"
  command_bin: /usr/bin/fax-send
  command_args: ["--format=tar"]

analyzer:
  url: "https://av.example/scan"
  analyze_usb: true
  analyze_net: false

report:
  write_dest: true
  write_local: /custom/out/reports

filters:
  - exact: ["secret.txt"]
  - start: ["."]
    contain: ["tmp"]

usb_port_accesses:
  ports_src: [[1, 2]]
  ports_dst: [[1, 3]]

post_copy:
  description: "notify"
  command_bin: /usr/bin/notify-send
  command_args: ["done"]

keep_tmp_files: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.OutDirectory != "/custom/out" {
		t.Errorf("expected out_directory=/custom/out, got %s", cfg.OutDirectory)
	}
	if cfg.Lang != "fr" {
		t.Errorf("expected lang=fr, got %s", cfg.Lang)
	}
	if len(cfg.Networks) != 1 || cfg.Networks[0].URL != "https://dest.example/upload" {
		t.Errorf("unexpected networks: %+v", cfg.Networks)
	}
	if cfg.SourceNetwork == nil || cfg.SourceNetwork.URL != "https://src.example/download" {
		t.Errorf("unexpected source_network: %+v", cfg.SourceNetwork)
	}
	if cfg.Command == nil || cfg.Command.CommandBin != "/usr/bin/fax-send" {
		t.Errorf("unexpected command: %+v", cfg.Command)
	}
	if cfg.Analyzer == nil || !cfg.Analyzer.AnalyzeUsb || cfg.Analyzer.AnalyzeNet {
		t.Errorf("unexpected analyzer: %+v", cfg.Analyzer)
	}
	if !cfg.Report.WriteDest || cfg.Report.WriteLocal != "/custom/out/reports" {
		t.Errorf("unexpected report: %+v", cfg.Report)
	}
	if len(cfg.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(cfg.Filters))
	}
	if cfg.Filters[0].Exact[0] != "secret.txt" {
		t.Errorf("unexpected filter[0]: %+v", cfg.Filters[0])
	}
	if len(cfg.USBPortAccesses.PortsSrc) != 1 || cfg.USBPortAccesses.PortsSrc[0][1] != 2 {
		t.Errorf("unexpected usb_port_accesses: %+v", cfg.USBPortAccesses)
	}
	if cfg.PostCopy == nil || cfg.PostCopy.CommandBin != "/usr/bin/notify-send" {
		t.Errorf("unexpected post_copy: %+v", cfg.PostCopy)
	}
	if !cfg.KeepTmpFiles {
		t.Error("expected keep_tmp_files=true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid minimal config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing out_directory",
			modify: func(c *Config) {
				c.OutDirectory = ""
			},
			wantErr: true,
		},
		{
			name: "filter with no directives",
			modify: func(c *Config) {
				c.Filters = []FilterConfig{{}}
			},
			wantErr: true,
		},
		{
			name: "command without command_bin",
			modify: func(c *Config) {
				c.Command = &CommandConfig{Description: "x"}
			},
			wantErr: true,
		},
		{
			name: "post_copy without command_bin",
			modify: func(c *Config) {
				c.PostCopy = &PostCopyConfig{Description: "x"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{OutDirectory: "/out"}
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureOutDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{OutDirectory: filepath.Join(tmpDir, "usbsas-out")}

	if err := cfg.EnsureOutDirectory(); err != nil {
		t.Fatalf("EnsureOutDirectory failed: %v", err)
	}

	info, err := os.Stat(cfg.OutDirectory)
	if err != nil {
		t.Fatalf("out_directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("out_directory is not a directory")
	}
}

func TestBinaryPath_UsesBinPath(t *testing.T) {
	origBin := os.Getenv("USBSAS_BIN_PATH")
	defer os.Setenv("USBSAS_BIN_PATH", origBin)

	tmpDir := t.TempDir()
	binPath := filepath.Join(tmpDir, "usbsas-usbdev")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("failed to write fake binary: %v", err)
	}

	os.Setenv("USBSAS_BIN_PATH", tmpDir)

	resolved, err := BinaryPath("usbsas-usbdev")
	if err != nil {
		t.Fatalf("BinaryPath failed: %v", err)
	}
	if resolved != binPath {
		t.Errorf("expected %s, got %s", binPath, resolved)
	}
}

func TestBinaryPath_MissingInBinPath(t *testing.T) {
	origBin := os.Getenv("USBSAS_BIN_PATH")
	defer os.Setenv("USBSAS_BIN_PATH", origBin)

	tmpDir := t.TempDir()
	os.Setenv("USBSAS_BIN_PATH", tmpDir)

	_, err := BinaryPath("usbsas-nonexistent")
	if err == nil {
		t.Fatal("expected error for missing binary, got nil")
	}
}
