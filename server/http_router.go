package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

// FastHTTPRouter resolves a request to its handler. Paths without
// parameters live in a flat map; `{name}` segments go into a trie where a
// static child always wins over the parameter child.
type FastHTTPRouter struct {
	root          *RouteNode
	staticRoutes  map[string]*types.RouteInfo
	pendingRoutes []types.RouteBuilder
	mu            sync.RWMutex
}

type RouteNode struct {
	staticChildren map[string]*RouteNode
	paramChild     *RouteNode
	paramName      string
	routes         map[string]*types.RouteInfo
}

func NewFastHTTPRouter() *FastHTTPRouter {
	return &FastHTTPRouter{
		root:         newRouteNode(),
		staticRoutes: make(map[string]*types.RouteInfo),
	}
}

func newRouteNode() *RouteNode {
	return &RouteNode{staticChildren: make(map[string]*RouteNode)}
}

func (r *FastHTTPRouter) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if config == nil {
		config = &types.RouteConfig{}
	}

	method = strings.ToUpper(method)
	path = normalizePath(path)
	info := &types.RouteInfo{
		Method:  method,
		Path:    path,
		Handler: handler,
		Config:  config,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !strings.Contains(path, "{") {
		r.staticRoutes[routeKey(method, path)] = info
		return
	}

	node := r.root
	for _, segment := range splitPath(path) {
		if name, ok := paramName(segment); ok {
			if node.paramChild == nil {
				node.paramChild = newRouteNode()
				node.paramChild.paramName = name
			}
			node = node.paramChild
			continue
		}

		child, exists := node.staticChildren[segment]
		if !exists {
			child = newRouteNode()
			node.staticChildren[segment] = child
		}
		node = child
	}

	if node.routes == nil {
		node.routes = make(map[string]*types.RouteInfo)
	}
	node.routes[method] = info
}

// Lookup finds the route for method and path. found reports whether any route
// owns the path; info is nil when the path exists under a different method.
func (r *FastHTTPRouter) Lookup(method, path string) (info *types.RouteInfo, params map[string]string, found bool) {
	path = normalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if route, ok := r.staticRoutes[routeKey(method, path)]; ok {
		return route, nil, true
	}

	segments := splitPath(path)
	params = make(map[string]string)
	if node := r.match(r.root, segments, method, params); node != nil {
		if len(params) == 0 {
			params = nil
		}
		return node.routes[method], params, true
	}

	found = r.match(r.root, segments, "", make(map[string]string)) != nil || r.hasStaticPath(path)
	return nil, nil, found
}

// match walks the trie for a node serving method, or any method when method
// is empty.
func (r *FastHTTPRouter) match(node *RouteNode, segments []string, method string, params map[string]string) *RouteNode {
	if len(segments) == 0 {
		if _, ok := node.routes[method]; ok || (method == "" && len(node.routes) > 0) {
			return node
		}
		return nil
	}

	if child, ok := node.staticChildren[segments[0]]; ok {
		if found := r.match(child, segments[1:], method, params); found != nil {
			return found
		}
	}

	if node.paramChild != nil && segments[0] != "" {
		params[node.paramChild.paramName] = segments[0]
		if found := r.match(node.paramChild, segments[1:], method, params); found != nil {
			return found
		}
		delete(params, node.paramChild.paramName)
	}

	return nil
}

func (r *FastHTTPRouter) hasStaticPath(path string) bool {
	for _, info := range r.staticRoutes {
		if info.Path == path {
			return true
		}
	}
	return false
}

// Handler dispatches ctx to the matched route through server.
func (r *FastHTTPRouter) Handler(ctx *fasthttp.RequestCtx, server types.HTTPServer) {
	info, params, found := r.Lookup(string(ctx.Method()), string(ctx.Path()))

	if info == nil {
		status, message := fasthttp.StatusNotFound, "Not found"
		if found {
			status, message = fasthttp.StatusMethodNotAllowed, "Method not allowed"
		}
		server.HandleRequest(ctx, func(ctx *fasthttp.RequestCtx) {
			utils.WriteError(ctx, status, message)
		}, &types.RouteConfig{})
		return
	}

	if params != nil {
		ctx.SetUserValue(types.RouteParamsKey, params)
	}

	server.HandleRequest(ctx, info.Handler, info.Config)
}

func (r *FastHTTPRouter) Route(method string, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	rb := &RouteBuilder{
		router:  r,
		method:  method,
		path:    path,
		handler: handler,
		config:  &types.RouteConfig{},
	}

	r.mu.Lock()
	r.pendingRoutes = append(r.pendingRoutes, rb)
	r.mu.Unlock()

	return rb
}

func (r *FastHTTPRouter) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: r,
		prefix: prefix,
		config: &types.RouteConfig{},
	}
}

// FinalizePendingRoutes registers every builder that has not been finalized
// explicitly. It runs once when the server starts.
func (r *FastHTTPRouter) FinalizePendingRoutes() error {
	r.mu.Lock()
	routes := r.pendingRoutes
	r.pendingRoutes = nil
	r.mu.Unlock()

	var failed int
	for _, route := range routes {
		if err := route.Finalize(); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return types.Errorf(types.ErrRouteFinalizationFailed, "%d errors occurred", failed)
	}

	return nil
}

func (r *FastHTTPRouter) GetAllRoutes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo, len(r.staticRoutes))
	for key, info := range r.staticRoutes {
		routes[key] = info
	}

	r.collectTrieRoutes(r.root, routes)

	return routes
}

func (r *FastHTTPRouter) collectTrieRoutes(node *RouteNode, routes map[string]*types.RouteInfo) {
	for method, info := range node.routes {
		routes[routeKey(method, info.Path)] = info
	}

	segments := make([]string, 0, len(node.staticChildren))
	for segment := range node.staticChildren {
		segments = append(segments, segment)
	}
	sort.Strings(segments)

	for _, segment := range segments {
		r.collectTrieRoutes(node.staticChildren[segment], routes)
	}

	if node.paramChild != nil {
		r.collectTrieRoutes(node.paramChild, routes)
	}
}

func (r *FastHTTPRouter) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route(fasthttp.MethodGet, path, handler)
}

func (r *FastHTTPRouter) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route(fasthttp.MethodPost, path, handler)
}

func (r *FastHTTPRouter) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route(fasthttp.MethodPut, path, handler)
}

func (r *FastHTTPRouter) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route(fasthttp.MethodDelete, path, handler)
}

func routeKey(method, path string) string {
	return method + ":" + path
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func paramName(segment string) (string, bool) {
	if len(segment) > 2 && segment[0] == '{' && segment[len(segment)-1] == '}' {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}
