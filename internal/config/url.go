package config

import (
	"net/url"
	"strings"
)

func deriveSocketURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return ""
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""

	return u.String()
}
