package route

import "github.com/labstack/echo/v4"

type echoRoutes struct {
	e *echo.Echo
}

// EchoRoutes reads the route table of an echo server. Routes registered through
// RouteNotFound are not real endpoints and are left out.
func EchoRoutes(e *echo.Echo) Provider {
	return echoRoutes{e: e}
}

func (r echoRoutes) Patterns() []string {
	routes := r.e.Routes()
	out := make([]string, 0, len(routes))
	for _, rt := range routes {
		if rt.Method == echo.RouteNotFound {
			continue
		}
		out = append(out, rt.Path)
	}
	return out
}
