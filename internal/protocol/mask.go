package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
)

// maskedValue replaces every secret in audit rows and error context.
const maskedValue = "********"

// sensitiveKeys are argument names whose values never appear in plain text.
var sensitiveKeys = map[string]bool{
	"password":     true,
	"secret":       true,
	"api_key":      true,
	"token":        true,
	"access_token": true,
}

var (
	urlPasswordRE  = regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+(@)`)
	passwordPairRE = regexp.MustCompile(`(?i)(password=)[^&\s"']+`)
)

// MaskSensitive rewrites a request line so secrets never reach the audit
// log: sensitive argument values are replaced outright and passwords inside
// URLs or key=value pairs are starred out. Input that is not a JSON object
// gets the textual masking only.
func MaskSensitive(line []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(line, &doc); err != nil {
		return MaskText(string(line))
	}
	masked := maskNode(doc)
	out, err := json.Marshal(masked)
	if err != nil {
		return MaskText(string(line))
	}
	return string(out)
}

// MaskText stars out URL userinfo passwords and password=value pairs.
func MaskText(s string) string {
	s = urlPasswordRE.ReplaceAllString(s, "${1}"+maskedValue+"${2}")
	return passwordPairRE.ReplaceAllString(s, "${1}"+maskedValue)
}

func maskNode(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if sensitiveKeys[strings.ToLower(key)] {
				out[key] = maskedValue
				continue
			}
			out[key] = maskNode(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskNode(item)
		}
		return out
	case string:
		return MaskText(v)
	default:
		return v
	}
}
