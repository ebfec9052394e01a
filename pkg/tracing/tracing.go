package tracing

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/aws"
	"contrib.go.opencensus.io/exporter/jaeger"
	"contrib.go.opencensus.io/exporter/prometheus"
	"contrib.go.opencensus.io/exporter/stackdriver"
	"contrib.go.opencensus.io/exporter/zipkin"
	"contrib.go.opencensus.io/integrations/ocsql"
	datadog "github.com/DataDog/opencensus-go-exporter-datadog"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"

	"github.com/leadforge/leadforge/config"
)

var (
	// KeyDeliveryStatus tags delivery measurements with their outcome
	KeyDeliveryStatus = tag.MustNewKey("delivery_status")
	// KeyCacheHit tags formula evaluations served from the result cache
	KeyCacheHit = tag.MustNewKey("cache_hit")

	deliveryLatency = stats.Float64("leadforge/webhook/delivery_latency", "Outbound webhook round trip", stats.UnitMilliseconds)
	evaluations     = stats.Int64("leadforge/formula/evaluations", "Calculated column evaluations", stats.UnitDimensionless)

	DeliveryLatencyView = &view.View{
		Name:        "leadforge/webhook/delivery_latency",
		Measure:     deliveryLatency,
		Description: "Distribution of webhook delivery latency by outcome",
		TagKeys:     []tag.Key{KeyDeliveryStatus},
		Aggregation: view.Distribution(25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000),
	}
	DeliveryCountView = &view.View{
		Name:        "leadforge/webhook/deliveries",
		Measure:     deliveryLatency,
		Description: "Number of webhook delivery attempts by outcome",
		TagKeys:     []tag.Key{KeyDeliveryStatus},
		Aggregation: view.Count(),
	}
	EvaluationCountView = &view.View{
		Name:        "leadforge/formula/evaluations",
		Measure:     evaluations,
		Description: "Calculated column evaluations by cache outcome",
		TagKeys:     []tag.Key{KeyCacheHit},
		Aggregation: view.Count(),
	}
)

// InitTracing configures sampling, the trace exporter and the metrics exporters.
// codecov:ignore:start
func InitTracing(cfg *config.TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	trace.ApplyConfig(trace.Config{
		DefaultSampler: trace.ProbabilitySampler(cfg.SamplingProbability),
	})

	if err := initTraceExporter(cfg); err != nil {
		return err
	}

	if err := view.Register(ochttp.DefaultServerViews...); err != nil {
		return fmt.Errorf("failed to register HTTP server views: %w", err)
	}
	if err := view.Register(ochttp.DefaultClientViews...); err != nil {
		return fmt.Errorf("failed to register HTTP client views: %w", err)
	}
	if err := view.Register(ocsql.DefaultViews...); err != nil {
		return fmt.Errorf("failed to register database views: %w", err)
	}
	if err := RegisterViews(); err != nil {
		return err
	}

	if err := initMetricsExporters(cfg); err != nil {
		return err
	}

	log.Printf("tracing initialized: trace exporter %q, metrics exporters %q", cfg.TraceExporter, cfg.MetricsExporter)
	return nil
}

func initTraceExporter(cfg *config.TracingConfig) error {
	switch cfg.TraceExporter {
	case "jaeger":
		return initJaegerExporter(cfg)
	case "zipkin":
		return initZipkinExporter(cfg)
	case "stackdriver":
		return initStackdriverTraceExporter(cfg)
	case "datadog":
		return initDatadogTraceExporter(cfg)
	case "xray":
		return initXRayExporter(cfg)
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
}

// initMetricsExporters accepts a comma separated list, e.g. "prometheus,datadog".
func initMetricsExporters(cfg *config.TracingConfig) error {
	for _, exporter := range strings.Split(cfg.MetricsExporter, ",") {
		exporter = strings.TrimSpace(exporter)

		var err error
		switch exporter {
		case "", "none":
			continue
		case "prometheus":
			err = initPrometheusExporter(cfg)
		case "stackdriver":
			err = initStackdriverMetricsExporter(cfg)
		case "datadog":
			err = initDatadogMetricsExporter(cfg)
		default:
			return fmt.Errorf("unsupported metrics exporter: %s", exporter)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize %s metrics exporter: %w", exporter, err)
		}
	}
	return nil
}

func initJaegerExporter(cfg *config.TracingConfig) error {
	if cfg.JaegerEndpoint == "" {
		return fmt.Errorf("jaeger endpoint is required for the jaeger exporter")
	}
	je, err := jaeger.NewExporter(jaeger.Options{
		CollectorEndpoint: cfg.JaegerEndpoint,
		Process:           jaeger.Process{ServiceName: cfg.ServiceName},
	})
	if err != nil {
		return fmt.Errorf("failed to create jaeger exporter: %w", err)
	}
	trace.RegisterExporter(je)
	return nil
}

func initZipkinExporter(cfg *config.TracingConfig) error {
	if cfg.ZipkinEndpoint == "" {
		return fmt.Errorf("zipkin endpoint is required for the zipkin exporter")
	}
	reporter := zipkinhttp.NewReporter(cfg.ZipkinEndpoint)
	trace.RegisterExporter(zipkin.NewExporter(reporter, nil))
	return nil
}

func initStackdriverTraceExporter(cfg *config.TracingConfig) error {
	if cfg.StackdriverProjectID == "" {
		return fmt.Errorf("stackdriver project id is required for the stackdriver exporter")
	}
	se, err := stackdriver.NewExporter(stackdriver.Options{ProjectID: cfg.StackdriverProjectID})
	if err != nil {
		return fmt.Errorf("failed to create stackdriver exporter: %w", err)
	}
	trace.RegisterExporter(se)
	return nil
}

func datadogOptions(cfg *config.TracingConfig) (datadog.Options, error) {
	if cfg.DatadogAgentAddress == "" {
		return datadog.Options{}, fmt.Errorf("datadog agent address is required for the datadog exporter")
	}
	options := datadog.Options{
		Service:   cfg.ServiceName,
		TraceAddr: cfg.DatadogAgentAddress,
		StatsAddr: cfg.DatadogAgentAddress,
		OnError: func(err error) {
			log.Printf("datadog exporter error: %v", err)
		},
	}
	if cfg.DatadogAPIKey != "" {
		options.GlobalTags = map[string]interface{}{"api_key": cfg.DatadogAPIKey}
	}
	return options, nil
}

func initDatadogTraceExporter(cfg *config.TracingConfig) error {
	options, err := datadogOptions(cfg)
	if err != nil {
		return err
	}
	exporter, err := datadog.NewExporter(options)
	if err != nil {
		return fmt.Errorf("failed to create datadog exporter: %w", err)
	}
	trace.RegisterExporter(exporter)
	return nil
}

func initXRayExporter(cfg *config.TracingConfig) error {
	if cfg.XRayRegion == "" {
		return fmt.Errorf("aws region is required for the xray exporter")
	}
	exporter, err := aws.NewExporter(
		aws.WithRegion(cfg.XRayRegion),
		aws.WithVersion("latest"),
	)
	if err != nil {
		return fmt.Errorf("failed to create xray exporter: %w", err)
	}
	trace.RegisterExporter(exporter)
	return nil
}

func initPrometheusExporter(cfg *config.TracingConfig) error {
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "leadforge",
		OnError: func(err error) {
			log.Printf("prometheus exporter error: %v", err)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	view.RegisterExporter(pe)

	if cfg.PrometheusPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", pe)
			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("prometheus metrics server stopped: %v", err)
			}
		}()
	}
	return nil
}

func initStackdriverMetricsExporter(cfg *config.TracingConfig) error {
	if cfg.StackdriverProjectID == "" {
		return fmt.Errorf("stackdriver project id is required for the stackdriver exporter")
	}
	se, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    cfg.StackdriverProjectID,
		MetricPrefix: cfg.ServiceName,
		OnError: func(err error) {
			log.Printf("stackdriver exporter error: %v", err)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create stackdriver exporter: %w", err)
	}
	view.RegisterExporter(se)
	return nil
}

func initDatadogMetricsExporter(cfg *config.TracingConfig) error {
	options, err := datadogOptions(cfg)
	if err != nil {
		return err
	}
	exporter, err := datadog.NewExporter(options)
	if err != nil {
		return fmt.Errorf("failed to create datadog exporter: %w", err)
	}
	view.RegisterExporter(exporter)
	return nil
}

// codecov:ignore:end

// RegisterViews registers the domain views.
func RegisterViews() error {
	if err := view.Register(DeliveryLatencyView, DeliveryCountView, EvaluationCountView); err != nil {
		return fmt.Errorf("failed to register domain views: %w", err)
	}
	return nil
}

// RecordDelivery records one webhook attempt and its outcome.
func RecordDelivery(ctx context.Context, status string, latency time.Duration) {
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyDeliveryStatus, status)},
		deliveryLatency.M(float64(latency)/float64(time.Millisecond)),
	)
}

// RecordEvaluation records one calculated column evaluation.
func RecordEvaluation(ctx context.Context, fromCache bool) {
	hit := "false"
	if fromCache {
		hit = "true"
	}
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyCacheHit, hit)},
		evaluations.M(1),
	)
}
