package cli

import "net/http"

// onlyMethod emulates Go 1.22+ method-qualified ServeMux patterns
// ("POST /path") on older toolchains.
func onlyMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
