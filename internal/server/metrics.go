package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/location"
)

const metricsNamespace = "go_compass"

// compassCollector snapshots tracker, location and hub state on each scrape
type compassCollector struct {
	tracker   *compass.Tracker
	location  *location.Service
	hub       *WSHub
	startTime time.Time

	heading         *prometheus.Desc
	target          *prometheus.Desc
	samples         *prometheus.Desc
	readings        *prometheus.Desc
	withheld        *prometheus.Desc
	subscriptions   *prometheus.Desc
	sourceHealthy   *prometheus.Desc
	uptime          *prometheus.Desc
	clients         *prometheus.Desc
	fixes           *prometheus.Desc
	geocodes        *prometheus.Desc
	geocodeFailures *prometheus.Desc
	geocodeSkipped  *prometheus.Desc
	gpsRestarts     *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
}

func newCompassCollector(tracker *compass.Tracker, loc *location.Service, hub *WSHub, start time.Time) *compassCollector {
	return &compassCollector{
		tracker:   tracker,
		location:  loc,
		hub:       hub,
		startTime: start,

		heading:         desc("heading_degrees", "Current smoothed heading in degrees"),
		target:          desc("animation_target_degrees", "Cumulative dial rotation target"),
		samples:         desc("samples_total", "Sensor samples received"),
		readings:        desc("readings_total", "Heading readings emitted"),
		withheld:        desc("withheld_total", "Samples that produced no reading"),
		subscriptions:   desc("subscriptions_total", "Sensor subscriptions started"),
		sourceHealthy:   desc("source_healthy", "Sensor source health (1=healthy, 0=unhealthy)", "source"),
		uptime:          desc("uptime_seconds", "Server uptime in seconds"),
		clients:         desc("websocket_clients", "Current WebSocket client count"),
		fixes:           desc("location_fixes_total", "GPS fixes processed"),
		geocodes:        desc("geocode_requests_total", "Reverse geocoding lookups"),
		geocodeFailures: desc("geocode_failures_total", "Reverse geocoding lookups that failed"),
		geocodeSkipped:  desc("geocode_skipped_total", "Fixes that reused the previous address"),
		gpsRestarts:     desc("location_restarts_total", "Times the GPS source was reopened after ending"),
	}
}

// Describe implements prometheus.Collector
func (c *compassCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.heading, c.target, c.samples, c.readings, c.withheld, c.subscriptions,
		c.sourceHealthy, c.uptime, c.clients,
		c.fixes, c.geocodes, c.geocodeFailures, c.geocodeSkipped, c.gpsRestarts,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *compassCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.uptime, time.Since(c.startTime).Seconds())
	gauge(c.clients, float64(c.hub.ClientCount()))

	if c.tracker != nil {
		stats := c.tracker.Stats()
		gauge(c.heading, stats.CurrentDegrees)
		gauge(c.target, stats.AnimationTarget)
		counter(c.samples, stats.SampleCount)
		counter(c.readings, stats.ReadingCount)
		counter(c.withheld, stats.WithheldCount)
		counter(c.subscriptions, stats.Subscriptions)
		gauge(c.sourceHealthy, boolToFloat(stats.SourceHealthy), stats.SourceName)
	}

	if c.location != nil {
		stats := c.location.Stats()
		counter(c.fixes, stats.FixCount)
		counter(c.geocodes, stats.GeocodeCount)
		counter(c.geocodeFailures, stats.GeocodeFailures)
		counter(c.geocodeSkipped, stats.GeocodeSkipped)
		counter(c.gpsRestarts, stats.Restarts)
	}
}

// newMetricsRegistry builds the registry served at /metrics. It is per
// server so tests can build several.
func newMetricsRegistry(c *compassCollector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
