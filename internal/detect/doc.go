// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect finds the accelerator a local model will run on and how
// much memory it has.
//
// Supported hardware:
//   - NVIDIA (via nvidia-smi)
//   - AMD on Linux (via the amdgpu sysfs counters)
//   - Apple Silicon (unified memory via sysctl)
//   - CPU fallback (half of system RAM)
//
// # Key Types
//
//   - Kind: the accelerator family
//   - Accelerator: name, memory and driver of the detected device
//   - Detector: runs the probes and caches the result
//
// # Usage
//
//	det := detect.New()
//	acc, err := det.Cached(ctx)
//	if err == nil {
//		fmt.Println(acc) // "NVIDIA GeForce RTX 4090 (24 GiB)"
//	}
package detect
