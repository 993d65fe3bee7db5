package fragment

import (
	"regexp"
	"strconv"
	"strings"
)

var actionToken = regexp.MustCompile(`(confirmation|invite|recovery|email_change|access)_token=([^&]*)`)

// Trim strips a leading "#" or "#/" (or a bare "/") from raw.
func Trim(raw string) string {
	s := strings.TrimPrefix(raw, "#")
	return strings.TrimPrefix(s, "/")
}

// Pairs splits a fragment into its key=value pairs. Values are kept verbatim;
// a key without "=" maps to "". Later keys win.
func Pairs(fragment string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(fragment, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		out[k] = v
	}
	return out
}

// Classify maps a raw fragment to its TokenParam and key/value pairs without
// any side effects. Unrecognized input yields Default.
func Classify(raw string) (TokenParam, map[string]string) {
	if raw == "" {
		return Default, nil
	}
	frag := Trim(raw)
	pairs := Pairs(frag)

	if pairs["error"] == ErrorAccessDenied && pairs["error_description"] == strconv.Itoa(StatusAccessDenied) {
		return TokenParam{Error: ErrorAccessDenied, Status: StatusAccessDenied}, pairs
	}

	m := actionToken.FindStringSubmatch(frag)
	if m == nil {
		return Default, pairs
	}
	return TokenParam{Type: Type(m[1]), Token: m[2]}, pairs
}
