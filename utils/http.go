package utils

import (
	"github.com/valyala/fasthttp"
)

func setNoCacheHeaders(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}
}

// WriteJSON encodes data as the response body. Encoding failures become a 500.
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, data interface{}) {
	body, err := Marshal(data)
	if err != nil {
		CreateErrorResponse(ctx)
		return
	}

	setNoCacheHeaders(ctx)
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func WriteError(ctx *fasthttp.RequestCtx, statusCode int, err error) {
	WriteJSON(ctx, statusCode, map[string]string{
		"error":   fasthttp.StatusMessage(statusCode),
		"message": err.Error(),
	})
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	setNoCacheHeaders(ctx)
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)
}
