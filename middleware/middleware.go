package middleware

import (
	"sort"

	"github.com/valyala/fasthttp"
)

// Middleware wraps a request handler. Lower weights run first.
type Middleware interface {
	Name() string
	Weight() int
	Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler)
}

// Chain wraps handler with middlewares ordered by weight, the lightest
// outermost.
func Chain(handler fasthttp.RequestHandler, middlewares ...Middleware) fasthttp.RequestHandler {
	ordered := make([]Middleware, 0, len(middlewares))
	for _, m := range middlewares {
		if m != nil {
			ordered = append(ordered, m)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight() < ordered[j].Weight()
	})

	for i := len(ordered) - 1; i >= 0; i-- {
		m, next := ordered[i], handler
		handler = func(ctx *fasthttp.RequestCtx) {
			m.Handle(ctx, next)
		}
	}

	return handler
}
