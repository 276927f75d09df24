// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package ollama

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Windows-specific creation flags
const (
	createNoWindow  = 0x08000000
	detachedProcess = 0x00000008
)

// findOllamaExecutable searches for ollama.exe in PATH and common
// installation paths on Windows.
func findOllamaExecutable() (string, error) {
	for _, name := range []string{"ollama.exe", "ollama"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	var possiblePaths []string
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		possiblePaths = append(possiblePaths, filepath.Join(localAppData, "Programs", "Ollama", "ollama.exe"))
	}
	possiblePaths = append(possiblePaths,
		`C:\Program Files\Ollama\ollama.exe`,
		`C:\Program Files (x86)\Ollama\ollama.exe`,
	)

	for _, p := range possiblePaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ollama.exe not found in PATH, %%LOCALAPPDATA%%\\Programs\\Ollama or C:\\Program Files\\Ollama")
}

// startOllamaProcess spawns "ollama serve" detached from the console and
// returns the executable path.
func (c *Client) startOllamaProcess() (string, error) {
	ollamaPath, err := findOllamaExecutable()
	if err != nil {
		return "", &ClientError{Type: ErrTypeNotRunning, Message: "failed to find Ollama executable", Cause: err}
	}

	cmd := exec.Command(ollamaPath, "serve")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | createNoWindow | detachedProcess,
	}

	if err := cmd.Start(); err != nil {
		return "", &ClientError{
			Type:    ErrTypeNotRunning,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", ollamaPath),
			Cause:   err,
		}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}
	return ollamaPath, nil
}
