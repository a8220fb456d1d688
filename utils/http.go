package utils

import (
	"github.com/valyala/fasthttp"
)

const ContentTypeJSON = "application/json"

func WriteJSON(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	body, err := Marshal(data)
	if err != nil {
		CreateErrorResponse(ctx)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType(ContentTypeJSON)
	ctx.SetBody(body)
}

func WriteError(ctx *fasthttp.RequestCtx, status int, message string) {
	WriteJSON(ctx, status, map[string]string{"error": message})
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	writeNoStore(ctx, fasthttp.StatusInternalServerError,
		`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)
}

func CreateUnauthorizedResponse(ctx *fasthttp.RequestCtx) {
	writeNoStore(ctx, fasthttp.StatusUnauthorized,
		`{"error":"Unauthorized","message":"Authentication required"}`)
}

func CreateForbiddenResponse(ctx *fasthttp.RequestCtx) {
	writeNoStore(ctx, fasthttp.StatusForbidden,
		`{"error":"Forbidden","message":"Admin privileges required"}`)
}

func writeNoStore(ctx *fasthttp.RequestCtx, status int, body string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType(ContentTypeJSON)

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}

	ctx.SetBodyString(body)
}
