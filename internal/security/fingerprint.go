package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DeviceInfo describes the client presenting a request.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
	Timezone  string `json:"timezone,omitempty"`
	Language  string `json:"language,omitempty"`
	Screen    string `json:"screen,omitempty"`
}

// DeviceFingerprintAt returns the 16 hex character fingerprint of info for the
// hour containing at. The same device yields the same value within that hour.
func DeviceFingerprintAt(info DeviceInfo, at time.Time) string {
	bucket := at.Unix() / 3600
	payload := strings.Join([]string{
		strings.ToLower(info.UserAgent),
		info.IP,
		info.Timezone,
		info.Language,
		info.Screen,
		strconv.FormatInt(bucket, 10),
	}, "\x1f")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// DeviceFingerprint fingerprints info for the current hour of the encryptor's clock.
func (e *Encryptor) DeviceFingerprint(info DeviceInfo) string {
	return DeviceFingerprintAt(info, e.nowF())
}
