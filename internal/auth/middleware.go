package auth

import (
	"net/http"
)

// Middleware guards next with Service.Authenticate and stores the verified
// claims on the request context.
func Middleware(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := bearerToken(r)
		if !ok {
			message := "invalid authorization format"
			if header == "" {
				message = "missing authorization token"
			}
			service.tokenFailure(withMeta(r), &Error{Kind: KindUnauthorized, Message: message}, 0)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: message, Code: KindUnauthorized})
			return
		}

		claims, err := service.Authenticate(withMeta(r), token)
		if err != nil {
			writeServiceError(w, err, "failed to authenticate", service.clock.Now())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
