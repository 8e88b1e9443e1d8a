package http

import "strings"

type binding struct {
	route   Route
	handler Handler
}

// Router is the route table. It is filled before the server starts and is
// only read afterwards, so lookups take no locks.
type Router struct {
	bindings []*binding
	exact    map[string]*binding
}

func NewRouter() *Router {
	return &Router{
		exact: make(map[string]*binding),
	}
}

// Match is the outcome of a successful Resolve.
type Match struct {
	Route   Route
	Handler Handler
	Params  Params
}

// RegisterRoute binds handler to (method, pattern). Registering the same
// pair again replaces the earlier handler. Middleware composes as in Chain,
// so the first one listed runs first.
func (router *Router) RegisterRoute(method, pattern string, handler Handler, middleware ...Middleware) {
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	handler = Chain(handler, middleware...)

	route := NewRoute(method, pattern)
	for _, b := range router.bindings {
		if b.route.Method == route.Method && b.route.Pattern == route.Pattern {
			b.handler = handler
			return
		}
	}

	b := &binding{route: route, handler: handler}
	router.bindings = append(router.bindings, b)
	if !route.hasParams {
		router.exact[exactKey(route.Method, route.Pattern)] = b
	}
}

func (router *Router) Get(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodGet, pattern, handler, middleware...)
}

func (router *Router) Head(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodHead, pattern, handler, middleware...)
}

func (router *Router) Post(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodPost, pattern, handler, middleware...)
}

func (router *Router) Put(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodPut, pattern, handler, middleware...)
}

func (router *Router) Patch(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodPatch, pattern, handler, middleware...)
}

func (router *Router) Delete(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodDelete, pattern, handler, middleware...)
}

func (router *Router) Options(pattern string, handler Handler, middleware ...Middleware) {
	router.RegisterRoute(MethodOptions, pattern, handler, middleware...)
}

// Group registers the routes added by groupFunc under prefix, wrapping each
// of them in middlewareList.
func (router *Router) Group(prefix string, groupFunc func(group *Router), middlewareList ...Middleware) {
	group := NewRouter()

	groupFunc(group)

	prefix = strings.TrimSuffix(prefix, "/")
	for _, b := range group.bindings {
		pattern := prefix + b.route.Pattern
		if b.route.Pattern == "/" && prefix != "" {
			pattern = prefix
		}
		router.RegisterRoute(b.route.Method, pattern, b.handler, middlewareList...)
	}
}

// Routes lists the registered routes in registration order.
func (router *Router) Routes() []Route {
	routes := make([]Route, len(router.bindings))
	for i, b := range router.bindings {
		routes[i] = b.route
	}
	return routes
}

// Resolve finds the binding for method and uri. The query string is
// ignored. A parameterless route that equals the path wins outright;
// otherwise the route matching the most segments wins, ties going to the
// route whose first parameter comes latest. A trailing parameter absorbs
// the rest of the path. Segments are not URL-decoded.
func (router *Router) Resolve(method, uri string) (Match, bool) {
	path := uri
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}

	if b, found := router.exact[exactKey(method, path)]; found {
		return Match{Route: b.route, Handler: b.handler}, true
	}

	segments := splitPath(path)

	var best *binding
	bestMatched, bestFirstParam := 0, -1
	for _, b := range router.bindings {
		route := b.route
		if route.Method != method || !route.matches(segments) {
			continue
		}

		matched := len(route.segments)
		if matched > bestMatched || (matched == bestMatched && route.firstParam > bestFirstParam) {
			best = b
			bestMatched = matched
			bestFirstParam = route.firstParam
		}
	}
	if best == nil {
		return Match{}, false
	}

	return Match{
		Route:   best.route,
		Handler: best.handler,
		Params:  best.route.extract(segments),
	}, true
}

func (r Route) matches(segments []string) bool {
	if len(r.segments) == 0 || len(r.segments) > len(segments) {
		return false
	}
	if len(r.segments) < len(segments) && !r.lastIsParam() {
		return false
	}
	for i, segment := range r.segments {
		if !isParamSegment(segment) && segment != segments[i] {
			return false
		}
	}
	return true
}

func (r Route) extract(segments []string) Params {
	if !r.hasParams {
		return nil
	}
	params := make(Params, 0, 2)
	last := len(r.segments) - 1
	for i, segment := range r.segments {
		if !isParamSegment(segment) {
			continue
		}
		value := segments[i]
		if i == last {
			value = strings.Join(segments[i:], "/")
		}
		params = append(params, Param{Name: paramName(segment), Value: value})
	}
	return params
}

func exactKey(method, path string) string {
	return method + " " + path
}
