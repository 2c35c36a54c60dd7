package route

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type chiRoutes struct {
	r chi.Routes
}

// ChiRoutes reads the route table of a chi router, sub-routers included.
func ChiRoutes(r chi.Routes) Provider {
	return chiRoutes{r: r}
}

func (c chiRoutes) Patterns() []string {
	var out []string
	_ = chi.Walk(c.r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, route)
		return nil
	})
	return out
}
