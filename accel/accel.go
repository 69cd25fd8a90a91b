// Package accel prepares the process environment read by the ML runtime that
// backend converters run on (PyTorch MPS fallback, CUDA device pinning).
package accel

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	// MPSFallbackEnv lets PyTorch fall back to CPU for ops the Apple MPS
	// device does not implement.
	MPSFallbackEnv = "PYTORCH_ENABLE_MPS_FALLBACK"
	// CUDAVisibleDevicesEnv restricts which GPUs a CUDA runtime may see.
	CUDAVisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"
)

// EnableMPSFallback sets PYTORCH_ENABLE_MPS_FALLBACK=1, overwriting any prior value.
func EnableMPSFallback() error {
	if err := os.Setenv(MPSFallbackEnv, "1"); err != nil {
		return fmt.Errorf("set %s: %w", MPSFallbackEnv, err)
	}
	return nil
}

// ParseDeviceList normalizes a comma-separated GPU index list ("0", "0, 1").
// "-1" alone hides every device. Empty input returns "".
func ParseDeviceList(devices string) (string, error) {
	devices = strings.TrimSpace(devices)
	if devices == "" {
		return "", nil
	}
	if devices == "-1" {
		return devices, nil
	}
	parts := strings.Split(devices, ",")
	seen := make(map[int]bool, len(parts))
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 0 {
			return "", fmt.Errorf("invalid CUDA device %q in %q; want comma-separated indices like 0,1", p, devices)
		}
		if seen[idx] {
			return "", fmt.Errorf("duplicate CUDA device %d in %q", idx, devices)
		}
		seen[idx] = true
		normalized = append(normalized, strconv.Itoa(idx))
	}
	return strings.Join(normalized, ","), nil
}

// PinCUDADevices sets CUDA_VISIBLE_DEVICES to the given list. An empty list
// leaves the variable untouched.
func PinCUDADevices(devices string) error {
	list, err := ParseDeviceList(devices)
	if err != nil {
		return err
	}
	if list == "" {
		return nil
	}
	if err := os.Setenv(CUDAVisibleDevicesEnv, list); err != nil {
		return fmt.Errorf("set %s: %w", CUDAVisibleDevicesEnv, err)
	}
	return nil
}

// Environ returns the environment for a converter child process: the current
// environment with extra applied on top, and the MPS fallback always on.
func Environ(extra map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = os.ExpandEnv(v)
	}
	merged[MPSFallbackEnv] = "1"

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
