package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether APTOSPILOT_ENV selects development mode, where
// cookies drop the Secure flag so the dashboard works over plain http.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("APTOSPILOT_ENV"))
	return env == "development" || env == "dev"
}
