package observability

import "regexp"

var (
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;&]+)`)
	reToken    = regexp.MustCompile(`(?i)(token=|bearer\s+)([A-Za-z0-9._-]+)`)
	reDSNPass  = regexp.MustCompile(`(?i)(://)([^:/@\s]+):([^@\s]+)(@)`)
	reUserPass = regexp.MustCompile(`(^|\s)([^:/@\s]+):([^@\s/]+)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)(apikey=|api_key=|privatekey=)([^\s;&]+)`)
)

// Mask hides credentials in driver and tool messages before they are
// logged or returned to callers. URL style DSNs and the bare
// user:password@account form are both covered.
func Mask(s string) string {
	out := s
	out = rePassword.ReplaceAllString(out, "$1***")
	out = reToken.ReplaceAllString(out, "$1***")
	out = reDSNPass.ReplaceAllString(out, "$1*:*$4")
	out = reUserPass.ReplaceAllString(out, "$1*:*$4")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	return out
}
