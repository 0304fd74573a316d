package http

import nethttp "net/http"

// onlyMethod emulates Go 1.22+ method-qualified ServeMux patterns
// ("POST /path") on older toolchains.
func onlyMethod(method string, h nethttp.HandlerFunc) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != method {
			w.WriteHeader(nethttp.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
