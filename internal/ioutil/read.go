package ioutil

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ReadLimited reads up to limit bytes from r for use in error messages and logs.
// A read failure is described in the returned string rather than dropped.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// StatusError builds an error for an unexpected upstream status, including a
// trimmed excerpt of the response body.
func StatusError(service string, resp *http.Response) error {
	excerpt := strings.TrimSpace(ReadLimited(resp.Body, 512))
	if excerpt == "" {
		return fmt.Errorf("%s returned status %d", service, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, excerpt)
}
