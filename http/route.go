package http

import (
	"math"
	"strings"
)

// Route is an immutable (method, pattern) pair. Pattern segments wrapped in
// angle brackets, like <path>, are named parameters.
type Route struct {
	Method  string
	Pattern string

	segments   []string
	hasParams  bool
	firstParam int
}

func NewRoute(method, pattern string) Route {
	route := Route{
		Method:     strings.ToUpper(method),
		Pattern:    pattern,
		segments:   splitPath(pattern),
		firstParam: math.MaxInt,
	}
	for i, segment := range route.segments {
		if isParamSegment(segment) {
			route.hasParams = true
			if i < route.firstParam {
				route.firstParam = i
			}
		}
	}
	return route
}

func (r Route) HasParams() bool {
	return r.hasParams
}

func (r Route) String() string {
	return r.Method + " " + r.Pattern
}

func (r Route) lastIsParam() bool {
	return len(r.segments) > 0 && isParamSegment(r.segments[len(r.segments)-1])
}

func isParamSegment(segment string) bool {
	return len(segment) > 2 && segment[0] == '<' && segment[len(segment)-1] == '>'
}

func paramName(segment string) string {
	return segment[1 : len(segment)-1]
}

// splitPath drops the leading slash, so "/" and "" both have no segments.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

type Param struct {
	Name  string
	Value string
}

// Params are the parameters extracted for one request, in pattern order.
type Params []Param

func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
