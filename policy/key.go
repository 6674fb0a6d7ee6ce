package policy

import (
	"net/url"
	"strings"
)

// buildKey turns a (scope, target) pair into the policy file's storage key
// and, for URL-shaped targets, the request pathname used for PathPrefix
// matching. For api.call.http, target is "METHOD URL" and the key is
// "api:METHOD:origin" per §6. Anything else falls back to "scope:target".
func buildKey(scope, target string) (key string, pathname string) {
	if scope == "api.call.http" {
		method, rawURL, ok := strings.Cut(target, " ")
		if ok {
			if u, err := url.Parse(rawURL); err == nil {
				origin := u.Scheme + "://" + u.Host
				return "api:" + strings.ToUpper(method) + ":" + origin, u.Path
			}
		}
	}
	return scope + ":" + target, ""
}
