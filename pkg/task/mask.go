package task

import "strings"

// Mask replaces secret values in stored declarations
const Mask = "********"

// Keys whose values are secrets wherever they appear in a declaration
var secretKeys = map[string]bool{
	"password":         true,
	"passphrase":       true,
	"bindpw":           true,
	"secret":           true,
	"privatekey":       true,
	"localpassword":    true,
	"remotepassword":   true,
	"bigiqpassword":    true,
	"bigippassword":    true,
	"targetpassphrase": true,
	"regkey":           true,
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	return secretKeys[lower] || strings.HasSuffix(lower, "password")
}

// MaskSecrets returns a copy of v with every secret-bearing value replaced
func MaskSecrets(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if isSecretKey(k) && item != nil {
				out[k] = Mask
				continue
			}
			out[k] = MaskSecrets(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = MaskSecrets(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return val
	}
}
