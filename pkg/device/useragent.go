// Package device turns a User-Agent header into a coarse description for
// session listings. It only needs to be good enough for a human to tell
// their devices apart.
package device

import "strings"

const (
	TypeDesktop = "desktop"
	TypeMobile  = "mobile"
	TypeTablet  = "tablet"
	TypeBot     = "bot"
	TypeUnknown = "unknown"
)

// Info is the parsed form of a user agent.
type Info struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Type    string `json:"device_type"`
}

// Name is a short "Browser on OS" label.
func (i Info) Name() string {
	switch {
	case i.Browser != "" && i.OS != "":
		return i.Browser + " on " + i.OS
	case i.Browser != "":
		return i.Browser
	case i.OS != "":
		return i.OS
	default:
		return "Unknown device"
	}
}

type rule struct {
	token string
	name  string
}

// order matters: Edge and Opera also advertise Chrome, Chrome advertises Safari
var browserRules = []rule{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"fxios/", "Firefox"},
	{"crios/", "Chrome"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
	{"curl/", "curl"},
	{"python-requests", "python-requests"},
	{"go-http-client", "Go HTTP client"},
	{"postmanruntime", "Postman"},
}

var osRules = []rule{
	{"iphone", "iOS"},
	{"ipad", "iPadOS"},
	{"android", "Android"},
	{"windows", "Windows"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

var botTokens = []string{"bot", "crawler", "spider", "curl/", "wget/", "python-requests", "go-http-client"}

// Parse classifies a user agent string.
func Parse(ua string) Info {
	lower := strings.ToLower(strings.TrimSpace(ua))
	if lower == "" {
		return Info{Type: TypeUnknown}
	}

	info := Info{
		Browser: match(lower, browserRules),
		OS:      match(lower, osRules),
	}

	switch {
	case containsAny(lower, botTokens):
		info.Type = TypeBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		info.Type = TypeTablet
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone"):
		info.Type = TypeMobile
	case info.OS != "":
		info.Type = TypeDesktop
	default:
		info.Type = TypeUnknown
	}

	return info
}

func match(ua string, rules []rule) string {
	for _, r := range rules {
		if strings.Contains(ua, r.token) {
			return r.name
		}
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
