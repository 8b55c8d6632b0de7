package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
	"github.com/cynclan/cync-lan/internal/infrastructure/influxdb"
)

// testConfig matches the docker-compose.yml dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "cynclan-dev-token",
		Org:           "cynclan",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1, // short so tests see write errors quickly
	}
}

// skipIfNoInfluxDB skips unless a local InfluxDB answers (or
// RUN_INTEGRATION forces the attempt).
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(context.Background(), testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// connectTest connects to the dev instance and closes on cleanup.
func connectTest(t *testing.T) *influxdb.Client {
	t.Helper()
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// errorRecorder captures async write errors race-safely.
type errorRecorder struct {
	mu  sync.Mutex
	err error
}

func (r *errorRecorder) record(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *errorRecorder) get() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// expectWrite flushes and fails the test if the batcher reported an
// error for the points written so far.
func expectWrite(t *testing.T, client *influxdb.Client, rec *errorRecorder) {
	t.Helper()
	client.Flush()
	time.Sleep(100 * time.Millisecond) // let the error callback land
	if err := rec.get(); err != nil {
		t.Errorf("async write error = %v", err)
	}
}

// ─── Connection ──────────────────────────────────────────────────────

func TestConnect(t *testing.T) {
	client := connectTest(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // nothing listens here

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

// ─── Health ──────────────────────────────────────────────────────────

func TestHealthCheck(t *testing.T) {
	client := connectTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := connectTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}

// ─── Writes ──────────────────────────────────────────────────────────

func TestWriteDeviceState(t *testing.T) {
	client := connectTest(t)

	var rec errorRecorder
	client.SetOnError(rec.record)

	client.WriteDeviceState(influxdb.DeviceStatePoint{
		Home:        "1001",
		DeviceID:    7,
		Source:      "stream",
		On:          true,
		Brightness:  46,
		Temperature: 50,
		Online:      true,
	})

	expectWrite(t, client, &rec)
}

func TestWriteSessionGauges(t *testing.T) {
	client := connectTest(t)

	var rec errorRecorder
	client.SetOnError(rec.record)

	client.WriteSessionGauges(3, 2)

	expectWrite(t, client, &rec)
}

func TestWritePoint(t *testing.T) {
	client := connectTest(t)

	var rec errorRecorder
	client.SetOnError(rec.record)

	client.WritePoint(
		"command_latency",
		map[string]string{"home": "1001"},
		map[string]any{"millis": 412, "broadcasts": 3},
	)

	expectWrite(t, client, &rec)
}

func TestWritePointWithTime(t *testing.T) {
	client := connectTest(t)

	var rec errorRecorder
	client.SetOnError(rec.record)

	client.WritePointWithTime(
		"device_state",
		map[string]string{"home": "1001", "device": "9", "source": "mesh info"},
		map[string]any{"on": 0, "online": 1},
		time.Now().Add(-1*time.Hour),
	)

	expectWrite(t, client, &rec)
}

// ─── Shutdown ────────────────────────────────────────────────────────

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// A pending point forces Close to exercise its flush.
	client.WriteSessionGauges(1, 1)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestClose_Zero(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
