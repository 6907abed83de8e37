package dfx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deepaffex/dfx/internal/config"
	"github.com/deepaffex/dfx/internal/mockdfx"
	"github.com/deepaffex/dfx/pkg/measurement"
)

func TestLookupServer(t *testing.T) {
	s, err := LookupServer("PROD")
	if err != nil {
		t.Fatalf("LookupServer(PROD) error = %v", err)
	}
	if s.APIURL != "https://api.deepaffex.ai:9443" {
		t.Errorf("APIURL = %q", s.APIURL)
	}
	if !strings.HasPrefix(s.WebsocketURL, "wss://") {
		t.Errorf("WebsocketURL = %q, want wss scheme", s.WebsocketURL)
	}

	if _, err := LookupServer("staging"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("LookupServer(staging) error = %v, want ErrUnknownServer", err)
	}

	keys := ServerKeys()
	if len(keys) != 6 {
		t.Errorf("ServerKeys() = %v, want 6 entries", keys)
	}
}

func TestModeLimit(t *testing.T) {
	tests := []struct {
		mode string
		want float64
	}{
		{"DISCRETE", 120},
		{"discrete", 120},
		{"BATCH", 1200},
		{"VIDEO", 1200},
		{"STREAMING", 1200},
	}
	for _, tc := range tests {
		got, err := modeLimit(tc.mode)
		if err != nil || got != tc.want {
			t.Errorf("modeLimit(%q) = (%v, %v), want %v", tc.mode, got, err, tc.want)
		}
	}
	if _, err := modeLimit("CONTINUOUS"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("modeLimit(CONTINUOUS) error = %v, want ErrUnknownMode", err)
	}
}

// testEnv wires a mock deployment and returns the options pointing a
// Client at it.
type testEnv struct {
	mock       *mockdfx.Server
	ts         *httptest.Server
	configPath string
}

func newTestEnv(t *testing.T, mock *mockdfx.Server) *testEnv {
	t.Helper()
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{
		mock:       mock,
		ts:         ts,
		configPath: filepath.Join(t.TempDir(), "config.json"),
	}
}

func (e *testEnv) options(extra ...Option) []Option {
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	opts := []Option{
		WithCustomServer(e.ts.URL, wsURL),
		WithConfigPath(e.configPath),
	}
	return append(opts, extra...)
}

func TestNewSetupAndRecycle(t *testing.T) {
	env := newTestEnv(t, mockdfx.New())
	ctx := context.Background()

	c, err := New(ctx, "KEY", "study-1", "ops@example.com", "hunter2",
		env.options()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	num, max := c.Quota()
	if num != 4 || max != 8 {
		t.Errorf("Quota() = (%d, %d), want (4, 8) for 15s chunks of a 60s video", num, max)
	}

	first, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	// A second client against the same cache recycles both tokens, so
	// the file does not change.
	c2, err := New(ctx, "KEY", "study-1", "ops@example.com", "hunter2",
		env.options()...)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer c2.Close()

	second, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("credential cache changed on recycled setup")
	}
}

func TestNewRejectsBadLicense(t *testing.T) {
	mock := mockdfx.New()
	mock.LicenseKey = "GOOD"
	env := newTestEnv(t, mock)

	_, err := New(context.Background(), "BAD", "study-1", "ops@example.com", "pw",
		env.options()...)
	if err == nil {
		t.Fatal("New() with rejected license succeeded")
	}
}

func TestNewWrongPasswordFatal(t *testing.T) {
	env := newTestEnv(t, mockdfx.New())
	ctx := context.Background()

	c, err := New(ctx, "KEY", "study-1", "ops@example.com", "right",
		env.options()...)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	// Same email from a fresh cache: the user now exists, so a wrong
	// password must not fall into the create-user path.
	otherCache := WithConfigPath(filepath.Join(t.TempDir(), "config.json"))
	_, err = New(ctx, "KEY", "study-1", "ops@example.com", "wrong",
		env.options(otherCache)...)
	if err == nil {
		t.Fatal("New() with wrong password succeeded")
	}
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()
	cfg := WithConfigPath(filepath.Join(t.TempDir(), "config.json"))

	if _, err := New(ctx, "K", "s", "e", "p", cfg, WithServer("staging")); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("unknown server error = %v", err)
	}
	if _, err := New(ctx, "K", "s", "e", "p", cfg, WithMode("CONTINUOUS")); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("unknown mode error = %v", err)
	}
	if _, err := New(ctx, "K", "s", "e", "p", cfg, WithChunkLength(0)); err == nil {
		t.Error("zero chunk length accepted")
	}
	if _, err := New(ctx, "K", "s", "e", "p", cfg, WithAddMethod("carrier-pigeon")); err == nil {
		t.Error("unknown add method accepted")
	}
}

func TestCreateMeasurementRefreshesStaleToken(t *testing.T) {
	env := newTestEnv(t, mockdfx.New())
	ctx := context.Background()

	c, err := New(ctx, "KEY", "study-1", "ops@example.com", "pw",
		env.options()...)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	// Corrupt the cached user token; the device token stays valid.
	cache, err := config.Load(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	cache.SetUserToken(DefaultServer, "KEY", "ops@example.com", "stale-token")
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	c2, err := New(ctx, "KEY", "study-1", "ops@example.com", "pw",
		env.options()...)
	if err != nil {
		t.Fatalf("New() with stale token error = %v", err)
	}
	defer c2.Close()

	id, err := c2.CreateMeasurement(ctx)
	if err != nil {
		t.Fatalf("CreateMeasurement() error = %v, want re-login and retry", err)
	}
	if id == "" || c2.MeasurementID() != id {
		t.Errorf("measurement id = %q", id)
	}
}

// runRecording uploads a 4-chunk recording while subscribed, asserting
// every result payload comes back. The mock closes measurements after
// two chunks, forcing a rotation mid-recording.
func runRecording(t *testing.T, addMethod string) {
	t.Helper()
	mock := mockdfx.New()
	mock.MaxChunksPerMeasurement = 2
	env := newTestEnv(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, "KEY", "study-1", "ops@example.com", "pw",
		env.options(WithAddMethod(addMethod))...)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.CreateMeasurement(ctx); err != nil {
		t.Fatal(err)
	}

	subErr := make(chan error, 1)
	go func() {
		subErr <- c.SubscribeToResults(ctx, nil)
	}()

	const total = 4
	for i := 0; i < total; i++ {
		chunk := measurement.Chunk{
			Order:     i,
			Total:     total,
			StartTime: fmt.Sprintf("%d.0", i*15),
			EndTime:   fmt.Sprintf("%d.0", (i+1)*15),
			Duration:  "15.0",
			Payload:   bytes.Repeat([]byte{byte('A' + i)}, 64),
		}
		if err := c.AddChunk(ctx, chunk); err != nil {
			t.Fatalf("AddChunk(%d) error = %v", i, err)
		}
	}

	received := 0
	for received < total {
		select {
		case payload := <-c.Results():
			if len(payload) != 64 {
				t.Errorf("result payload length = %d, want 64", len(payload))
			}
			received++
		case <-ctx.Done():
			t.Fatalf("timed out with %d of %d results", received, total)
		}
	}

	select {
	case err := <-subErr:
		if err != nil {
			t.Fatalf("SubscribeToResults() error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("subscribe loop did not finish")
	}
}

func TestRecordingOverWebsocket(t *testing.T) {
	runRecording(t, AddMethodWebsocket)
}

func TestRecordingOverREST(t *testing.T) {
	runRecording(t, AddMethodREST)
}

func TestClear(t *testing.T) {
	env := newTestEnv(t, mockdfx.New())
	ctx := context.Background()

	c, err := New(ctx, "KEY", "study-1", "ops@example.com", "pw",
		env.options()...)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	cache, err := config.Load(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := cache.DeviceToken(DefaultServer, "KEY"); got != "" {
		t.Errorf("device token after Clear = %q, want empty", got)
	}
}
