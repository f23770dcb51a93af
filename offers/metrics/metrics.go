package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/calyxpay/lib-offers/offers/log"
	"github.com/calyxpay/lib-offers/offers/safe"
)

// ErrNilMeter indicates that a nil OTel meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes a counter collected by the factory.
type Metric struct {
	Name        string
	Description string
	Unit        string
}

// Pre-configured offer lifecycle metrics.
var (
	// MetricOffersCreated counts offers recorded into escrow.
	MetricOffersCreated = Metric{
		Name:        "offers_created",
		Unit:        "1",
		Description: "Measures the number of offers recorded into escrow.",
	}

	// MetricOffersTaken counts offers resolved by the recipient.
	MetricOffersTaken = Metric{
		Name:        "offers_taken",
		Unit:        "1",
		Description: "Measures the number of offers taken by their recipient.",
	}

	// MetricOffersRedirected counts offers resolved by a handler redirect.
	MetricOffersRedirected = Metric{
		Name:        "offers_redirected",
		Unit:        "1",
		Description: "Measures the number of offers redirected by a handler.",
	}

	// MetricOffersReclaimed counts expired offers reclaimed by their sender.
	MetricOffersReclaimed = Metric{
		Name:        "offers_reclaimed",
		Unit:        "1",
		Description: "Measures the number of expired offers reclaimed by senders.",
	}

	// MetricHandlerDispatches counts synchronous handler invocations.
	MetricHandlerDispatches = Metric{
		Name:        "handler_dispatches",
		Unit:        "1",
		Description: "Measures the number of synchronous offer handler dispatches.",
	}
)

// Factory lazily creates and caches OpenTelemetry counters. It is safe for
// concurrent use and degrades to a noop meter when none is configured.
type Factory struct {
	meter    metric.Meter
	counters sync.Map // string -> metric.Int64Counter
	logger   log.Logger
}

// NewFactory creates a metrics factory bound to the given meter.
func NewFactory(meter metric.Meter, logger log.Logger) (*Factory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &Factory{meter: meter, logger: logger}, nil
}

// NewNopFactory creates a factory whose counters record nothing.
func NewNopFactory() *Factory {
	return &Factory{meter: noop.NewMeterProvider().Meter("offers"), logger: log.NewNop()}
}

// Add increments the counter for the given metric. Instrument creation
// failures are logged once and the increment is dropped; metrics never fail
// a ledger operation.
func (f *Factory) Add(ctx context.Context, m Metric, value int64, attrs ...attribute.KeyValue) {
	if f == nil {
		return
	}

	counter, err := f.counter(m)
	if err != nil {
		f.logger.Log(ctx, log.LevelWarn, "create counter failed",
			log.String("metric", m.Name), log.Err(err))

		return
	}

	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

func (f *Factory) counter(m Metric) (metric.Int64Counter, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		return cached.(metric.Int64Counter), nil
	}

	counter, err := f.meter.Int64Counter(
		m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, err
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	return actual.(metric.Int64Counter), nil
}

// ResolutionRate returns resolved/created as a percentage, zero when no
// offers were created yet.
func ResolutionRate(resolved, created int64) decimal.Decimal {
	return safe.PercentageOrZero(decimal.NewFromInt(resolved), decimal.NewFromInt(created))
}
