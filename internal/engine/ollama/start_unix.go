// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package ollama

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// findOllamaExecutable searches for ollama in PATH and common installation
// paths on Unix/macOS.
func findOllamaExecutable() (string, error) {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	possiblePaths := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/ollama",
		"/Applications/Ollama.app/Contents/Resources/ollama",
	}
	if home, err := os.UserHomeDir(); err == nil {
		possiblePaths = append(possiblePaths,
			filepath.Join(home, ".local", "bin", "ollama"),
			filepath.Join(home, "bin", "ollama"),
		)
	}

	for _, p := range possiblePaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ollama not found in PATH, /usr/local/bin, /usr/bin or ~/.local/bin")
}

// startOllamaProcess spawns "ollama serve" in its own process group and
// returns the executable path.
func (c *Client) startOllamaProcess() (string, error) {
	ollamaPath, err := findOllamaExecutable()
	if err != nil {
		return "", &ClientError{Type: ErrTypeNotRunning, Message: "failed to find Ollama executable", Cause: err}
	}

	cmd := exec.Command(ollamaPath, "serve")
	// Pass the environment through so GPU-related variables reach Ollama
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

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
