// Package telemetry exports forwarded samples to InfluxDB and periodically logs relay counters.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/relay"
)

const (
	measurement  = "tracker_sample"
	sampleBuffer = 256
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// SampleSource is satisfied by *relay.Relay.
type SampleSource interface {
	SubscribeSamples(ch chan<- relay.Sample) event.Subscription
}

func samplePoint(s relay.Sample) *write.Point {
	p := influxdb2.NewPointWithMeasurement(measurement).
		SetTime(s.Time).
		AddTag("tracker", s.Tracker).
		AddTag("channel", s.Channel).
		AddField("corrected", s.Corrected).
		AddField("max_drift", s.MaxDrift)
	for i, v := range s.Values {
		p.AddField(fmt.Sprintf("v%d", i), v)
	}
	return p
}

// InfluxExporter writes one point per forwarded sample through the non-blocking write API.
type InfluxExporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	written atomic.Uint64
	failed  atomic.Uint64

	log *slog.Logger
}

func NewInfluxExporter(cfg InfluxConfig) *InfluxExporter {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxExporter{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      logging.Get(logging.APP).With("exporter", "influxdb"),
	}
}

// Run exports samples from src until ctx is cancelled, then flushes pending points and closes the client.
func (e *InfluxExporter) Run(ctx context.Context, src SampleSource) error {
	// The errors channel is unbuffered and must be drained or the writer will block.
	errorsCh := e.writeAPI.Errors()
	var wait sync.WaitGroup
	wait.Add(1)
	go func() {
		defer wait.Done()
		for err := range errorsCh {
			if err != nil {
				e.failed.Add(1)
				e.log.Warn("InfluxDB write failed", "error", err)
			}
		}
	}()
	defer func() {
		e.writeAPI.Flush()
		e.client.Close()
		wait.Wait()
		e.log.Info("InfluxDB exporter stopped", "written", e.written.Load(), "failed", e.failed.Load())
	}()

	samples := make(chan relay.Sample, sampleBuffer)
	sub := src.SubscribeSamples(samples)
	defer sub.Unsubscribe()

	e.log.Info("Exporting samples to InfluxDB", "url", e.client.ServerURL())
	for {
		select {
		case s := <-samples:
			e.writeAPI.WritePoint(samplePoint(s))
			e.written.Add(1)
		case err := <-sub.Err():
			if err != nil {
				return fmt.Errorf("sample subscription: %w", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *InfluxExporter) Written() uint64 { return e.written.Load() }

func (e *InfluxExporter) Failed() uint64 { return e.failed.Load() }
