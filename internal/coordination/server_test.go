package coordination

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func TestServeReturnsNotFoundForUnmappedRoute(t *testing.T) {
	s := NewServer(":0", zerolog.Nop())

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/nope")
	ctx.Request.Header.SetMethod("GET")

	s.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
}

func TestServeRoutesToHandlerAndEnvelopesSuccess(t *testing.T) {
	s := NewServer(":0", zerolog.Nop())

	s.Handle("GET", "/health", func(ctx context.Context, body []byte) (interface{}, error) {
		return map[string]bool{"ok": true}, nil
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/health")
	ctx.Request.Header.SetMethod("GET")

	s.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}

	if body := string(ctx.Response.Body()); body == "" {
		t.Fatal("expected a non-empty JSON envelope")
	}
}

func TestServeReturns400OnHandlerError(t *testing.T) {
	s := NewServer(":0", zerolog.Nop())

	s.Handle("POST", "/register", func(ctx context.Context, body []byte) (interface{}, error) {
		return nil, ErrAlreadyOriginal
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/register")
	ctx.Request.Header.SetMethod("POST")

	s.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestUnhandleRemovesRoute(t *testing.T) {
	s := NewServer(":0", zerolog.Nop())

	s.Handle("GET", "/health", func(ctx context.Context, body []byte) (interface{}, error) {
		return nil, nil
	})
	s.Unhandle("GET", "/health")

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/health")
	ctx.Request.Header.SetMethod("GET")

	s.serve(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404 after unhandle, got %d", ctx.Response.StatusCode())
	}
}
