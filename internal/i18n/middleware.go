package i18n

import "net/http"

// Middleware picks the request language from the lang query parameter or
// the Accept-Language header and stores its localizer in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var langs []string
		if l := r.URL.Query().Get("lang"); l != "" {
			langs = append(langs, l)
		}
		if h := r.Header.Get("Accept-Language"); h != "" {
			langs = append(langs, h)
		}
		ctx := WithLocalizer(r.Context(), NewLocalizer(langs...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
