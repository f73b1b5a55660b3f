package page

// Route is the branch of the dispatcher that produced a response.
//
// A connection moves through ReceivingRequest and Routing into exactly one
// route, and every route ends with the connection closed. RouteAborted marks
// connections that were closed without a response (decode or read failures).
type Route int

const (
	RouteUnimplemented Route = iota
	RouteRoot
	RouteForbidden
	RouteNotFound
	RouteFile
	RouteAborted
)

var routeNames = [...]string{
	RouteUnimplemented: "unimplemented",
	RouteRoot:          "root",
	RouteForbidden:     "forbidden",
	RouteNotFound:      "not_found",
	RouteFile:          "file",
	RouteAborted:       "aborted",
}

func (r Route) String() string {
	if r < 0 || int(r) >= len(routeNames) {
		return "unknown"
	}
	return routeNames[r]
}

// StatusCode returns the numeric status sent for the route, or 0 when no
// response is sent.
func (r Route) StatusCode() int {
	switch r {
	case RouteRoot, RouteFile:
		return 200
	case RouteForbidden:
		return 403
	case RouteNotFound:
		return 404
	case RouteUnimplemented:
		return 401
	default:
		return 0
	}
}
