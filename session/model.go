package session

import (
	"strings"
	"time"
)

// Session is one logical authenticated device/browser instance. The
// SessionID stays stable across refresh-token rotations; the refresh
// token currently representing the session is the Redis key of the
// record, never part of the snapshot itself.
type Session struct {
	UserID     string     `json:"user_id"`
	SessionID  string     `json:"session_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	Device     DeviceInfo `json:"device,omitempty"`
}

// DeviceInfo is descriptive client context captured at login. It is
// shown on "list my devices" surfaces and never used for authorization
// decisions.
type DeviceInfo struct {
	UserAgent  string `json:"user_agent,omitempty"`
	IP         string `json:"ip,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Browser    string `json:"browser,omitempty"`
}

// DeriveDevice fills in the derived device type and browser from a raw
// user-agent string.
func DeriveDevice(userAgent, ip string) DeviceInfo {
	return DeviceInfo{
		UserAgent:  strings.TrimSpace(userAgent),
		IP:         strings.TrimSpace(ip),
		DeviceType: deviceTypeFrom(userAgent),
		Browser:    browserFrom(userAgent),
	}
}

func deviceTypeFrom(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return "mobile"
	default:
		return "desktop"
	}
}

func browserFrom(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	default:
		return "other"
	}
}
