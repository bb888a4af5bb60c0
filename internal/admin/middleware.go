package admin

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error("panic", zap.String("path", r.URL.Path), zap.Error(panicError))
				w.Header().Set("Connection", "close")
				s.writeJson(w, http.StatusInternalServerError, errorResponse{
					StatusCode: http.StatusInternalServerError,
					Message:    "internal server error",
				})
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}
