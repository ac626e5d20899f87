// Package coordination implements the HTTP coordination protocol: the
// Server every node exposes, the Client used to call peers, and the
// Coordinator/Worker roles built on top of both.
package coordination

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/savsgio/gotils"
	"github.com/valyala/fasthttp"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/internal/wire"
	"github.com/kettlecord/shardctl/structs/protocol"
)

// Handler processes one coordination protocol request body and returns the
// data to envelope in a successful response. Returning an error yields a
// 400 with the error's message (malformed bodies or role mismatches); an
// unregistered route is reported as 404 instead.
type Handler func(ctx context.Context, body []byte) (interface{}, error)

// routeKey is method+path, e.g. "POST /register".
type routeKey struct {
	method string
	path   string
}

// Server is the HTTP endpoint surface exposed by every node, coordinator or
// worker, whichever set of Handlers has been registered. The same Server
// type serves both roles, differentiated only by which handlers it holds.
type Server struct {
	logger zerolog.Logger
	addr   string
	inner  *fasthttp.Server

	mu     sync.RWMutex
	routes map[routeKey]Handler
}

// NewServer constructs a Server bound to addr (not yet listening).
func NewServer(addr string, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "coordination_server").Logger(),
		addr:   addr,
		routes: make(map[routeKey]Handler),
	}

	s.inner = &fasthttp.Server{
		Handler: s.serve,
		Name:    "shardctl",
	}

	return s
}

// Handle registers h for method+path, replacing any prior registration.
// Used to swap a node between coordinator and worker handler sets.
func (s *Server) Handle(method, path string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[routeKey{method, path}] = h
}

// Unhandle removes any registration for method+path.
func (s *Server) Unhandle(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.routes, routeKey{method, path})
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	if err := s.inner.ListenAndServe(s.addr); err != nil {
		return xerrors.Errorf("coordination server listen: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if err := s.inner.Shutdown(); err != nil {
		return xerrors.Errorf("coordination server shutdown: %w", err)
	}

	return nil
}

func (s *Server) serve(ctx *fasthttp.RequestCtx) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("recovered from panic in coordination handler")
			writeEnvelope(ctx, fasthttp.StatusInternalServerError, nil, fmt.Sprintf("internal error: %v", r))
		}
	}()

	key := routeKey{method: gotils.B2S(ctx.Method()), path: gotils.B2S(ctx.Path())}

	s.mu.RLock()
	h, ok := s.routes[key]
	s.mu.RUnlock()

	if !ok {
		writeEnvelope(ctx, fasthttp.StatusNotFound, nil, "not found")
		return
	}

	data, err := h(ctx, ctx.PostBody())
	if err != nil {
		s.logger.Warn().Err(err).Str("path", key.path).Msg("coordination handler returned error")
		writeEnvelope(ctx, fasthttp.StatusBadRequest, nil, err.Error())

		return
	}

	status := fasthttp.StatusOK
	if data == nil {
		status = fasthttp.StatusNoContent
	}

	writeEnvelope(ctx, status, data, "")
}

func writeEnvelope(ctx *fasthttp.RequestCtx, status int, data interface{}, errMsg string) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)

	if status == fasthttp.StatusNoContent {
		return
	}

	resp := protocol.BaseResponse{Success: errMsg == "", Data: data, Error: errMsg}

	body, err := wire.JSON.Marshal(resp)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	if _, err := ctx.Write(body); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
	}
}

// DecodeBody is a small helper every Handler uses to decode its typed
// request body, wrapping jsoniter errors uniformly.
func DecodeBody(body []byte, out interface{}) error {
	if len(body) == 0 {
		return nil
	}

	if err := wire.JSON.Unmarshal(body, out); err != nil {
		return xerrors.Errorf("coordination decode body: %w", err)
	}

	return nil
}
