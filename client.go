package dfx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deepaffex/dfx/internal/config"
	"github.com/deepaffex/dfx/pkg/api"
	"github.com/deepaffex/dfx/pkg/measurement"
	"github.com/deepaffex/dfx/pkg/metrics"
	"github.com/deepaffex/dfx/pkg/protocol"
	"github.com/deepaffex/dfx/pkg/router"
	"github.com/deepaffex/dfx/pkg/sink"
	"github.com/deepaffex/dfx/pkg/transport"
)

// Polling cadence for the subscribe loop while it waits for an upload
// to rotate onto a fresh measurement.
const (
	subscribePoll   = 200 * time.Millisecond
	subscribeSignal = 500 * time.Millisecond
)

// Client is the high-level DFX client. It authenticates against one
// server, creates measurements under one study, uploads payload chunks
// and subscribes to their results.
//
// One Client drives one websocket connection. UploadChunk and the
// subscribe loop may run in separate goroutines; everything else is
// meant to be called from one goroutine.
type Client struct {
	// Settings, fixed after New.
	serverKey    string
	customServer *Server
	deviceName   string
	configPath   string
	mode         string
	addMethod    string
	chunkLength  float64
	videoLength  float64
	licenseKey   string
	studyID      string
	userData     api.UserData
	logger       *slog.Logger
	metrics      *metrics.Metrics
	httpClient   *http.Client

	server    Server
	numChunks int
	maxChunks int

	cache       *config.Cache
	api         *api.Client
	deviceToken string
	userToken   string

	connID     string
	transport  *transport.Transport
	router     *router.Router
	uploader   *measurement.Uploader
	subscriber *measurement.Subscriber
	rest       *measurement.Service
	results    *sink.ChannelSink

	connectMu sync.Mutex

	mu            sync.Mutex
	measurementID string
}

// New authenticates a client against the selected server: it recycles
// cached credentials where possible, registers the license and logs in
// (creating the user on first contact) where not, and persists the
// resulting tokens. The websocket is dialed lazily on first use.
func New(ctx context.Context, licenseKey, studyID, email, password string, opts ...Option) (*Client, error) {
	c := &Client{
		serverKey:   DefaultServer,
		deviceName:  DefaultDeviceName,
		mode:        DefaultMode,
		addMethod:   DefaultAddMethod,
		chunkLength: DefaultChunkLength,
		videoLength: DefaultVideoLength,
		licenseKey:  licenseKey,
		studyID:     studyID,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.userData.Email = email
	c.userData.Password = password

	if c.customServer != nil {
		c.server = *c.customServer
	} else {
		server, err := LookupServer(c.serverKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownServer, c.serverKey)
		}
		c.server = server
	}

	c.mode = strings.ToUpper(c.mode)
	limit, err := modeLimit(c.mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, c.mode)
	}

	c.addMethod = strings.ToLower(c.addMethod)
	if c.addMethod == "ws" {
		c.addMethod = AddMethodWebsocket
	}
	if c.addMethod != AddMethodREST && c.addMethod != AddMethodWebsocket {
		return nil, fmt.Errorf("dfx: unknown add method %q", c.addMethod)
	}

	if c.chunkLength <= 0 {
		return nil, errors.New("dfx: chunk length must be positive")
	}
	c.numChunks = int(c.videoLength / c.chunkLength)
	c.maxChunks = int(limit / c.chunkLength)

	if c.configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		c.configPath = path
	}
	cache, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	c.cache = cache

	apiOpts := []api.Option{api.WithLogger(c.logger)}
	if c.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(c.httpClient))
	}
	c.api = api.New(c.server.APIURL, apiOpts...)

	if err := c.setup(ctx); err != nil {
		return nil, err
	}

	// One request ID for the whole session. Every outbound frame is
	// stamped with it, so responses addressed to this client are
	// recognized by the router.
	c.connID = protocol.NewRequestID()
	c.router = router.New(c.connID,
		router.WithUnknownObserver(c.metrics.UnknownSender))
	c.transport = transport.New(c.server.WebsocketURL, c.userToken,
		transport.WithLogger(c.logger))
	c.uploader = measurement.NewUploader(c.transport, c.router, c.connID,
		measurement.WithUploaderLogger(c.logger),
		measurement.WithUploaderMetrics(c.metrics))
	c.subscriber = measurement.NewSubscriber(c.transport, c.router, c.connID,
		measurement.WithSubscriberLogger(c.logger),
		measurement.WithSubscriberMetrics(c.metrics))
	c.rest = measurement.NewService(c.api, c.studyID, c.mode)
	c.results = sink.NewChannelSink(sink.DefaultChannelCapacity)

	return c, nil
}

// setup recycles or obtains credentials: a device token per
// (server, license) and a user token per (server, license, email).
// Partial progress is persisted even when a later step fails, so the
// next run does not repeat completed registrations.
func (c *Client) setup(ctx context.Context) error {
	email := c.userData.Email

	deviceToken := c.cache.DeviceToken(c.serverKey, c.licenseKey)
	if deviceToken == "" {
		token, err := c.api.RegisterLicense(ctx, c.licenseKey, c.deviceName)
		if err != nil {
			return fmt.Errorf("dfx: register license: %w", err)
		}
		deviceToken = token
		c.cache.SetDeviceToken(c.serverKey, c.licenseKey, deviceToken)
		if err := c.cache.Save(); err != nil {
			return err
		}
		c.logger.Info("license registered", "server", c.serverKey)
	} else {
		c.logger.Debug("recycled device token", "server", c.serverKey)
	}
	c.deviceToken = deviceToken

	userToken := c.cache.UserToken(c.serverKey, c.licenseKey, email)
	if userToken == "" {
		token, err := c.login(ctx)
		if err != nil {
			// Keep the device token for the next attempt.
			if saveErr := c.cache.Save(); saveErr != nil {
				c.logger.Warn("persist credentials", "error", saveErr)
			}
			return err
		}
		userToken = token
		c.cache.SetUserToken(c.serverKey, c.licenseKey, email, userToken)
		c.logger.Info("user logged in", "email", email)
	} else {
		c.logger.Debug("recycled user token", "email", email)
	}
	c.userToken = userToken
	c.api.SetToken(userToken)

	return c.cache.Save()
}

// login authenticates the user, creating the account first when the
// server has never seen this email. A wrong password is fatal.
func (c *Client) login(ctx context.Context) (string, error) {
	email, password := c.userData.Email, c.userData.Password

	token, err := c.api.LoginUser(ctx, c.deviceToken, email, password)
	if err == nil {
		return token, nil
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeInvalidUser {
		return "", fmt.Errorf("dfx: login: %w", err)
	}

	if _, err := c.api.CreateUser(ctx, c.deviceToken, c.userData); err != nil {
		return "", fmt.Errorf("dfx: create user: %w", err)
	}
	c.logger.Info("user created", "email", email)

	token, err = c.api.LoginUser(ctx, c.deviceToken, email, password)
	if err != nil {
		return "", fmt.Errorf("dfx: login after create: %w", err)
	}
	return token, nil
}

// refreshCredentials discards the cached user token and re-runs setup.
// Used when the server rejects a recycled token.
func (c *Client) refreshCredentials(ctx context.Context) error {
	c.cache.SetUserToken(c.serverKey, c.licenseKey, c.userData.Email, "")
	return c.setup(ctx)
}

// Connect dials the websocket. AddChunk and SubscribeToResults connect
// lazily, so calling Connect is only needed to front-load the dial.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	switch c.transport.State() {
	case transport.StateConnected:
		return nil
	case transport.StateDisconnected:
		return c.transport.Connect(ctx)
	default:
		return transport.ErrNotConnected
	}
}

// CreateMeasurement creates a measurement under the client's study and
// makes it the current one. A recycled token rejected by the server is
// refreshed once and the call retried.
func (c *Client) CreateMeasurement(ctx context.Context) (string, error) {
	id, err := c.rest.Create(ctx)
	if api.IsInvalidToken(err) {
		c.logger.Info("cached token rejected, re-authenticating")
		if err := c.refreshCredentials(ctx); err != nil {
			return "", err
		}
		id, err = c.rest.Create(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("dfx: create measurement: %w", err)
	}
	c.setMeasurementID(id)
	c.logger.Info("measurement created", "measurement_id", id)
	return id, nil
}

// MeasurementID returns the current measurement, "" before the first
// CreateMeasurement.
func (c *Client) MeasurementID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measurementID
}

func (c *Client) setMeasurementID(id string) {
	c.mu.Lock()
	c.measurementID = id
	c.mu.Unlock()
}

// Quota returns the chunk counts derived from the video length, chunk
// length and mode: the total number of chunks in the recording and the
// most one measurement may hold.
func (c *Client) Quota() (numChunks, maxChunks int) {
	return c.numChunks, c.maxChunks
}

// AddChunk sends one payload chunk to the current measurement using the
// configured backend. When the server reports the measurement closed
// (its duration window is spent), the client creates a fresh
// measurement and re-sends the chunk to it. Cancellation is a clean
// stop, not an error.
func (c *Client) AddChunk(ctx context.Context, chunk measurement.Chunk) error {
	if c.addMethod == AddMethodWebsocket {
		return c.addChunkWS(ctx, chunk)
	}
	return c.addChunkREST(ctx, chunk)
}

func (c *Client) addChunkWS(ctx context.Context, chunk measurement.Chunk) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	ack, err := c.uploader.UploadChunk(ctx, c.MeasurementID(), chunk)
	if err != nil {
		return err
	}
	if ack.Aborted || ack.OK() {
		return nil
	}
	if !ack.MeasurementClosed() {
		return fmt.Errorf("dfx: add data rejected with status %d", ack.Status)
	}

	id, err := c.rotate(ctx)
	if err != nil {
		return err
	}
	ack, err = c.uploader.UploadChunk(ctx, id, chunk)
	if err != nil {
		return err
	}
	if ack.Aborted || ack.OK() {
		return nil
	}
	return fmt.Errorf("dfx: add data after rotation rejected with status %d", ack.Status)
}

func (c *Client) addChunkREST(ctx context.Context, chunk measurement.Chunk) error {
	err := c.rest.AddData(ctx, c.MeasurementID(), chunk)
	if err == nil || !api.IsMeasurementClosed(err) {
		return err
	}

	id, rerr := c.rotate(ctx)
	if rerr != nil {
		return rerr
	}
	return c.rest.AddData(ctx, id, chunk)
}

// rotate collects what the closed measurement produced, creates its
// successor and publishes the new ID for the subscribe loop to pick up.
func (c *Client) rotate(ctx context.Context) (string, error) {
	prev := c.MeasurementID()
	if _, err := c.rest.Retrieve(ctx, prev); err != nil {
		c.logger.Warn("retrieve before rotation failed",
			"measurement_id", prev, "error", err)
	}

	id, err := c.CreateMeasurement(ctx)
	if err != nil {
		return "", fmt.Errorf("dfx: rotate measurement: %w", err)
	}
	c.metrics.Rotation()
	c.logger.Info("measurement rotated", "from", prev, "to", id)
	return id, nil
}

// SubscribeToResults receives result payloads for the whole recording,
// following rotations across consecutive measurements, and pushes each
// payload to snk. A nil snk delivers to the channel behind Results().
// The call returns once every expected chunk's result has arrived, the
// subscription is rejected, or ctx is cancelled (a clean stop).
func (c *Client) SubscribeToResults(ctx context.Context, snk sink.Sink) error {
	if snk == nil {
		snk = c.results
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}

	cursor := measurement.NewCursor(c.numChunks, c.maxChunks)
	delivered := 0
	current := c.MeasurementID()

	for {
		done, n, err := c.subscriber.Subscribe(ctx, current, delivered, snk, cursor)
		if err != nil {
			return err
		}
		delivered += n
		if done {
			c.logger.Info("subscription complete", "delivered", delivered)
			return nil
		}

		// The measurement filled its window before the recording ended.
		// Wait for the upload side to rotate onto a successor.
		next, err := c.waitForRotation(ctx, current)
		if err != nil || next == "" {
			return err
		}
		current = next
	}
}

// waitForRotation polls until the current measurement changes. Returns
// "" without error when ctx is cancelled while waiting.
func (c *Client) waitForRotation(ctx context.Context, current string) (string, error) {
	if err := sleepCtx(ctx, subscribeSignal); err != nil {
		return "", nil
	}
	for {
		if id := c.MeasurementID(); id != current {
			return id, nil
		}
		if err := sleepCtx(ctx, subscribePoll); err != nil {
			return "", nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Results returns the channel fed by SubscribeToResults when no sink is
// supplied. It closes on Close.
func (c *Client) Results() <-chan []byte {
	return c.results.Results()
}

// RetrieveResults fetches the computed results of a measurement over
// REST. An empty measurementID means the current one.
func (c *Client) RetrieveResults(ctx context.Context, measurementID string) (map[string]any, error) {
	if measurementID == "" {
		measurementID = c.MeasurementID()
	}
	return c.rest.Retrieve(ctx, measurementID)
}

// Clear drops every credential from the cache file. The client keeps
// its in-memory tokens; the next run starts fresh.
func (c *Client) Clear() error {
	c.cache.Clear()
	return c.cache.Save()
}

// Close shuts the websocket and the results channel. Safe to call more
// than once.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.results.Close()
	return err
}
