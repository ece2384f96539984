// Package idtoken locates and decodes the OIDC identity token returned to the
// redirect URI.
package idtoken

import (
	"net/url"

	"github.com/aptospilot/aptospilot/internal/log"
)

// Extract returns the identity token carried by redirectURL. The first match
// wins, in order: fragment id_token, query id_token, query access_token.
// Malformed input yields ("", false).
func Extract(redirectURL string) (string, bool) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		log.LogDebugWithFields("idtoken", "Unparseable redirect URL", map[string]any{"error": err.Error()})
		return "", false
	}

	if frag := u.EscapedFragment(); frag != "" {
		fragment, err := url.ParseQuery(frag)
		if err != nil {
			log.LogDebugWithFields("idtoken", "Unparseable redirect fragment", map[string]any{"error": err.Error()})
		} else if tok := fragment.Get("id_token"); tok != "" {
			return tok, true
		}
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		log.LogDebugWithFields("idtoken", "Unparseable redirect query", map[string]any{"error": err.Error()})
		return "", false
	}
	if tok := query.Get("id_token"); tok != "" {
		return tok, true
	}
	if tok := query.Get("access_token"); tok != "" {
		return tok, true
	}
	return "", false
}
