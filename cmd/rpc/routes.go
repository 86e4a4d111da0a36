package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// RPC Paths
const (
	VersionRoutePath = "/v1/"
	StatusRoutePath  = "/v1/query/status"
	MetricsRoutePath = "/v1/query/metrics"
	EventsRoutePath  = "/v1/query/events"
	// admin
	StartRoutePath         = "/v1/admin/start"
	ResourceUsageRoutePath = "/v1/admin/resource-usage"
	ConfigRoutePath        = "/v1/admin/config"
)

const (
	VersionRouteName = "version"
	StatusRouteName  = "status"
	MetricsRouteName = "metrics"
	EventsRouteName  = "events"
	// admin
	StartRouteName         = "start"
	ResourceUsageRouteName = "resource-usage"
	ConfigRouteName        = "config"
)

// routes contains the method and path for a command
type routes map[string]struct {
	Method string
	Path   string
}

// routePaths is a mapping from route names to their corresponding HTTP methods and paths.
var routePaths = routes{
	VersionRouteName:       {Method: http.MethodGet, Path: VersionRoutePath},
	StatusRouteName:        {Method: http.MethodGet, Path: StatusRoutePath},
	MetricsRouteName:       {Method: http.MethodGet, Path: MetricsRoutePath},
	EventsRouteName:        {Method: http.MethodGet, Path: EventsRoutePath},
	StartRouteName:         {Method: http.MethodPost, Path: StartRoutePath},
	ResourceUsageRouteName: {Method: http.MethodGet, Path: ResourceUsageRoutePath},
	ConfigRouteName:        {Method: http.MethodGet, Path: ConfigRoutePath},
}

// httpRouteHandlers is a custom type that maps strings to httprouter handle functions
type httpRouteHandlers map[string]httprouter.Handle

// createRouter initializes and returns a new HTTP router with predefined route handlers.
func createRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		VersionRouteName:       s.Version,
		StatusRouteName:        s.Status,
		MetricsRouteName:       s.Metrics,
		EventsRouteName:        s.Events,
		StartRouteName:         s.StartSignal,
		ResourceUsageRouteName: s.ResourceUsage,
		ConfigRouteName:        s.Config,
	}
	router := httprouter.New()
	for name, handler := range r {
		path := routePaths[name]
		router.Handle(path.Method, path.Path, logHandler{path.Path, handler, s.logger}.Handle)
	}
	return router
}
