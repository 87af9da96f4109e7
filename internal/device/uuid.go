package device

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) without dashes.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal form: lowercase, no
// dashes, no 0x prefix. Full 128-bit UUIDs built on the SIG base are reduced
// to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// EqualUUID reports whether two UUID strings denote the same UUID.
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ValidateUUID normalizes uuids and rejects empty or malformed ones. Only
// 16, 32 and 128-bit forms are accepted.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, raw := range uuids {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		u := NormalizeUUID(raw)
		if _, err := hex.DecodeString(u); err != nil || (len(u) != 4 && len(u) != 8 && len(u) != 32) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, raw)
		}
		result = append(result, u)
	}
	return result, nil
}
