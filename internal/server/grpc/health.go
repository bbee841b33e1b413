// Package grpcserver runs the gRPC health endpoint.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "studydesk"

// Options configures NewHealth.
type Options struct {
	// Probe checks backends; nil means always serving.
	Probe func(ctx context.Context) error
	// Interval between probes. Defaults to 10s.
	Interval time.Duration
	// Reflection registers the reflection service (dev mode).
	Reflection bool
	Log        *zap.Logger
}

// Health is a gRPC server exposing grpc.health.v1.
type Health struct {
	srv  *grpc.Server
	hs   *health.Server
	opts Options
	log  *zap.Logger
}

func NewHealth(opts Options) *Health {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(opts.Log), LoggingUnary(opts.Log)),
		grpc.ChainStreamInterceptor(RecoverStream(opts.Log), LoggingStream(opts.Log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if opts.Reflection {
		reflection.Register(srv)
	}
	h := &Health{srv: srv, hs: hs, opts: opts, log: opts.Log}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return h
}

// Serve blocks serving lis until Shutdown.
func (h *Health) Serve(lis net.Listener) error {
	h.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	return h.srv.Serve(lis)
}

// Watch probes backends until ctx is done and flips the serving status.
func (h *Health) Watch(ctx context.Context) {
	if h.opts.Probe == nil {
		return
	}
	t := time.NewTicker(h.opts.Interval)
	defer t.Stop()
	for {
		h.check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (h *Health) check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, h.opts.Interval)
	defer cancel()
	if err := h.opts.Probe(pctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("health probe failed", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.hs.SetServingStatus("", st)
	h.hs.SetServingStatus(ServiceName, st)
}

// Drain reports NOT_SERVING permanently; call it first on shutdown.
func (h *Health) Drain() { h.hs.Shutdown() }

// Shutdown drains and stops the server, waiting for in-flight RPCs.
func (h *Health) Shutdown() {
	h.hs.Shutdown()
	h.srv.GracefulStop()
}
