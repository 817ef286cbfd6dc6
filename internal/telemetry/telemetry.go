// Package telemetry wires an Apteryx daemon's tracing, metrics, and
// profiling surfaces: an optional OTLP trace exporter (grpc or http), an
// optional Prometheus scrape endpoint fed by the OTel metrics SDK, and an
// optional pprof endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"pkt.systems/pslog"
)

// Options selects which telemetry surfaces to bring up. Every field is
// optional; an empty Options disables telemetry entirely and Setup returns
// a nil, nil Bundle.
type Options struct {
	// OTLPEndpoint, when set, enables distributed tracing. Accepts a bare
	// host:port (grpc, insecure) or a grpc://, grpcs://, http://, https://
	// URL.
	OTLPEndpoint string
	// MetricsListen, when set, starts a Prometheus scrape endpoint at
	// "<MetricsListen>/metrics".
	MetricsListen string
	// PprofListen, when set, starts a pprof endpoint under /debug/pprof/.
	PprofListen string
	// RuntimeMetrics additionally exports Go runtime metrics (GC pauses,
	// goroutine counts) through the same Prometheus endpoint. Requires
	// MetricsListen.
	RuntimeMetrics bool
	Logger         pslog.Logger
}

// Bundle owns every resource Setup created; Shutdown releases all of them.
type Bundle struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider

	metricsServer *http.Server
	metricsLn     net.Listener
	pprofServer   *http.Server
	pprofLn       net.Listener
	logger        pslog.Logger
}

type otelErrorHandler struct {
	logger pslog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "waiting for connections to become ready") {
		h.logger.Debug("telemetry exporter retrying", "error", err)
		return
	}
	h.logger.Warn("telemetry exporter error", "error", err)
}

// Shutdown tears down every telemetry surface this bundle started,
// continuing past individual failures and joining them into one error.
func (b *Bundle) Shutdown(ctx context.Context) error {
	var errs []error
	if b.MeterProvider != nil {
		if err := b.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	if b.metricsServer != nil {
		if err := b.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if b.metricsLn != nil {
		_ = b.metricsLn.Close()
	}
	if b.pprofServer != nil {
		if err := b.pprofServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("pprof server shutdown: %w", err))
		}
	}
	if b.pprofLn != nil {
		_ = b.pprofLn.Close()
	}
	if b.TracerProvider != nil {
		if err := b.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type otlpTarget struct {
	protocol string // "grpc" or "http"
	endpoint string // host:port
	path     string
	insecure bool
}

var runtimeMetricsOnce sync.Once
var runtimeMetricsErr error

// Setup brings up whichever telemetry surfaces opts names, registering
// global OTel providers for the process. It returns a nil Bundle and nil
// error when opts names nothing.
func Setup(ctx context.Context, opts Options) (*Bundle, error) {
	if strings.TrimSpace(opts.OTLPEndpoint) == "" && strings.TrimSpace(opts.MetricsListen) == "" &&
		strings.TrimSpace(opts.PprofListen) == "" && !opts.RuntimeMetrics {
		return nil, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attributeServiceName("apteryx"), attributeServiceInstanceID(newInstanceID())),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var (
		traceProvider *sdktrace.TracerProvider
		meterProvider *sdkmetric.MeterProvider
		metricsServer *http.Server
		metricsLn     net.Listener
		pprofServer   *http.Server
		pprofLn       net.Listener
	)

	if endpoint := strings.TrimSpace(opts.OTLPEndpoint); endpoint != "" {
		target, err := resolveOTLPTarget(endpoint)
		if err != nil {
			return nil, err
		}
		switch target.protocol {
		case "grpc":
			traceProvider, err = setupGRPCTracing(ctx, target, res)
		case "http":
			traceProvider, err = setupHTTPTracing(ctx, target, res)
		}
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(traceProvider)
		logger.Info("tracing enabled", "protocol", target.protocol, "endpoint", target.endpoint)
	}

	if metricsListen := strings.TrimSpace(opts.MetricsListen); metricsListen != "" {
		registry := prometheus.NewRegistry()
		exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
		if opts.RuntimeMetrics {
			exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
		}
		exporter, err := otelprometheus.New(exporterOpts...)
		if err != nil {
			shutdownTrace(ctx, traceProvider)
			return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
		}
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(meterProvider)
		if opts.RuntimeMetrics {
			if err := startRuntimeMetrics(meterProvider); err != nil {
				shutdownTrace(ctx, traceProvider)
				_ = meterProvider.Shutdown(ctx)
				return nil, err
			}
			logger.Info("runtime metrics enabled")
		}
		if err := startProcessMetrics(meterProvider.Meter("apteryx")); err != nil {
			logger.Warn("process metrics disabled", "error", err)
		}
		metricsServer, metricsLn, err = startHTTPServer(metricsListen, promMux(registry), logger)
		if err != nil {
			shutdownTrace(ctx, traceProvider)
			_ = meterProvider.Shutdown(ctx)
			return nil, err
		}
		logger.Info("metrics enabled", "listen", metricsListen)
	} else if opts.RuntimeMetrics {
		return nil, fmt.Errorf("telemetry: runtime metrics require a metrics listen address")
	}

	if pprofListen := strings.TrimSpace(opts.PprofListen); pprofListen != "" {
		pprofServer, pprofLn, err = startHTTPServer(pprofListen, pprofMux(), logger)
		if err != nil {
			shutdownTrace(ctx, traceProvider)
			if meterProvider != nil {
				_ = meterProvider.Shutdown(ctx)
			}
			return nil, err
		}
		logger.Info("pprof enabled", "listen", pprofListen)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	otel.SetErrorHandler(otelErrorHandler{logger: logger})

	return &Bundle{
		TracerProvider: traceProvider,
		MeterProvider:  meterProvider,
		metricsServer:  metricsServer,
		metricsLn:      metricsLn,
		pprofServer:    pprofServer,
		pprofLn:        pprofLn,
		logger:         logger,
	}, nil
}

func shutdownTrace(ctx context.Context, tp *sdktrace.TracerProvider) {
	if tp != nil {
		_ = tp.Shutdown(ctx)
	}
}

func promMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func pprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func setupGRPCTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	traceOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target.endpoint),
		otlptracegrpc.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	} else {
		tlsConfig := credentials.NewClientTLSFromCert(nil, "")
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(tlsConfig)))
	}
	exporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (grpc): %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	), nil
}

func setupHTTPTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	if target.path != "" && target.path != "/" {
		traceOpts = append(traceOpts, otlptracehttp.WithURLPath(target.path))
	}
	exporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (http): %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	), nil
}

func startHTTPServer(addr string, handler http.Handler, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("telemetry server exited", "addr", addr, "error", err)
		}
	}()
	return srv, ln, nil
}

func startRuntimeMetrics(provider metric.MeterProvider) error {
	runtimeMetricsOnce.Do(func() {
		runtimeMetricsErr = otelruntime.Start(otelruntime.WithMeterProvider(provider))
	})
	return runtimeMetricsErr
}

func resolveOTLPTarget(raw string) (otlpTarget, error) {
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4317")
		}
		return otlpTarget{protocol: "grpc", endpoint: endpoint, insecure: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	host := u.Host
	if host == "" {
		host = u.Path
		u.Path = ""
	}
	target := otlpTarget{endpoint: host, path: strings.TrimSuffix(u.Path, "/")}
	switch strings.ToLower(u.Scheme) {
	case "grpc":
		target.protocol, target.insecure = "grpc", true
	case "grpcs":
		target.protocol, target.insecure = "grpc", false
	case "http":
		target.protocol, target.insecure = "http", true
		if !strings.Contains(target.endpoint, ":") {
			target.endpoint = net.JoinHostPort(target.endpoint, "4318")
		}
	case "https":
		target.protocol, target.insecure = "http", false
		if !strings.Contains(target.endpoint, ":") {
			target.endpoint = net.JoinHostPort(target.endpoint, "4318")
		}
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unknown scheme %q", u.Scheme)
	}
	if target.endpoint == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: missing endpoint host")
	}
	if target.protocol == "grpc" && !strings.Contains(target.endpoint, ":") {
		target.endpoint = net.JoinHostPort(target.endpoint, "4317")
	}
	return target, nil
}
