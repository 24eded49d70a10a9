package audit

import (
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

const maxClientLen = 120

// DescribeClient condenses a User-Agent header into "Browser version on OS (kind)".
func DescribeClient(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return truncate(raw, maxClientLen)
	}

	kind := "desktop"
	switch {
	case ua.Bot():
		kind = "bot"
	case ua.Mobile():
		kind = "mobile"
	}

	os := ua.OS()
	if os == "" {
		os = "unknown OS"
	}
	return truncate(fmt.Sprintf("%s %s on %s (%s)", name, version, os, kind), maxClientLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
