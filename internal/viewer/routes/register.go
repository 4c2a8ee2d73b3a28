package routes

import "github.com/go-chi/chi/v5"

// Register mounts every viewer route on r.
func Register(r chi.Router, d Deps) {
	registerSelfRoutes(r, d)
	registerCallRoutes(r, d)
	registerAPILogRoutes(r, d)
}
