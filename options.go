package dfx

import (
	"log/slog"
	"net/http"

	"github.com/deepaffex/dfx/pkg/api"
	"github.com/deepaffex/dfx/pkg/metrics"
)

// Add-data backends. REST posts chunks to the measurement endpoint;
// the websocket backend streams them over the framed sub-protocol.
const (
	AddMethodREST      = "rest"
	AddMethodWebsocket = "websocket"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultServer      = "prod"
	DefaultDeviceName  = "DFX desktop"
	DefaultMode        = ModeDiscrete
	DefaultAddMethod   = AddMethodREST
	DefaultChunkLength = 15
	DefaultVideoLength = 60
)

// Option configures a Client.
type Option func(*Client)

// WithServer selects a deployment from the server catalog. Defaults to
// "prod".
func WithServer(key string) Option {
	return func(c *Client) {
		c.serverKey = key
	}
}

// WithCustomServer points the client at explicit REST and websocket
// URLs instead of a catalog entry, for local development against
// dfx-mock. The server key still names the credential-cache bucket.
func WithCustomServer(apiURL, websocketURL string) Option {
	return func(c *Client) {
		c.customServer = &Server{APIURL: apiURL, WebsocketURL: websocketURL}
	}
}

// WithDeviceName sets the device name sent on license registration.
func WithDeviceName(name string) Option {
	return func(c *Client) {
		c.deviceName = name
	}
}

// WithConfigPath sets where the credential cache is stored. Defaults to
// the user config directory.
func WithConfigPath(path string) Option {
	return func(c *Client) {
		c.configPath = path
	}
}

// WithMode selects the measurement mode. Defaults to DISCRETE.
func WithMode(mode string) Option {
	return func(c *Client) {
		c.mode = mode
	}
}

// WithAddMethod selects the add-data backend, AddMethodREST or
// AddMethodWebsocket. Defaults to REST.
func WithAddMethod(method string) Option {
	return func(c *Client) {
		c.addMethod = method
	}
}

// WithChunkLength sets the chunk duration in seconds. Defaults to 15.
func WithChunkLength(seconds float64) Option {
	return func(c *Client) {
		c.chunkLength = seconds
	}
}

// WithVideoLength sets the whole recording duration in seconds.
// Defaults to 60.
func WithVideoLength(seconds float64) Option {
	return func(c *Client) {
		c.videoLength = seconds
	}
}

// WithUserData supplies the profile fields used when the login email
// has no account yet and one is created. Email and Password are always
// taken from the New arguments.
func WithUserData(data api.UserData) Option {
	return func(c *Client) {
		c.userData = data
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics attaches Prometheus instrumentation to the websocket
// flows.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}
