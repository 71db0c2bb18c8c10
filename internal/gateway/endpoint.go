package gateway

import "strings"

// PrivateMethodName builds the implicit-API method id for an exchange-specific
// endpoint, e.g. ("Get", "/order/{id}", "") -> "private_get_order_id" and
// ("Post", "/order", "v2") -> "v2_private_post_order".
func PrivateMethodName(verb, endpoint, prefix string) string {
	endpointStr := strings.NewReplacer("/", "_", "{", "", "}", "").Replace(endpoint)

	method := "private_" + strings.ToLower(verb) + strings.ToLower(endpointStr)
	if prefix != "" {
		method = strings.ToLower(prefix) + "_" + method
	}
	return method
}

// ParsePrivateMethod splits a method id produced by PrivateMethodName back
// into the HTTP verb and the endpoint path segments.
func ParsePrivateMethod(method string) (verb string, path string, ok bool) {
	idx := strings.Index(method, "private_")
	if idx < 0 {
		return "", "", false
	}
	rest := method[idx+len("private_"):]
	for _, v := range []string{"delete", "post", "put", "get"} {
		if strings.HasPrefix(rest, v) {
			path = strings.ReplaceAll(strings.TrimPrefix(rest, v), "_", "/")
			if path != "" && !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			return strings.ToUpper(v), path, true
		}
	}
	return "", "", false
}
