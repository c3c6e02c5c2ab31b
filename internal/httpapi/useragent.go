package httpapi

import (
	"net/http"
	"strings"

	"ascms.org/internal/auth"
)

// Ordered: the first matching token wins, so Edge and Opera precede Chrome and Chrome
// precedes Safari.
var browserTokens = []struct{ token, name string }{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"chrome/", "Chrome"},
	{"crios/", "Chrome"},
	{"safari/", "Safari"},
	{"curl/", "curl"},
	{"postman", "Postman"},
}

var osTokens = []struct{ token, name string }{
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"android", "Android"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
}

func parseUserAgent(ua string) (device, browser, os string) {
	l := strings.ToLower(ua)
	device, browser, os = "Desktop", "Other", "Other"
	switch {
	case strings.Contains(l, "ipad") || strings.Contains(l, "tablet"):
		device = "Tablet"
	case strings.Contains(l, "mobile") || strings.Contains(l, "iphone") || strings.Contains(l, "android"):
		device = "Mobile"
	}
	for _, b := range browserTokens {
		if strings.Contains(l, b.token) {
			browser = b.name
			break
		}
	}
	for _, o := range osTokens {
		if strings.Contains(l, o.token) {
			os = o.name
			break
		}
	}
	return device, browser, os
}

func clientInfo(r *http.Request) auth.ClientInfo {
	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	device, browser, os := parseUserAgent(ua)
	return auth.ClientInfo{
		IP:        clientIP(r),
		UserAgent: ua,
		Device:    device,
		Browser:   browser,
		OS:        os,
	}
}
