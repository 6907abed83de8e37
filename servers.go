package dfx

import (
	"errors"
	"sort"
	"strings"
)

// ErrUnknownServer reports a server key outside the catalog.
var ErrUnknownServer = errors.New("dfx: unknown server")

// Server is one DFX deployment: its REST base URL and the websocket
// endpoint speaking the measurement sub-protocol.
type Server struct {
	APIURL       string
	WebsocketURL string
}

// servers is the catalog of known DFX deployments, keyed by the short
// names users pass to New.
var servers = map[string]Server{
	"qa": {
		APIURL:       "https://qa.api.deepaffex.ai:9443",
		WebsocketURL: "wss://qa.api.deepaffex.ai:9080",
	},
	"dev": {
		APIURL:       "https://dev.api.deepaffex.ai:9443",
		WebsocketURL: "wss://dev.api.deepaffex.ai:9080",
	},
	"demo": {
		APIURL:       "https://demo.api.deepaffex.ai:9443",
		WebsocketURL: "wss://demo.api.deepaffex.ai:9080",
	},
	"prod": {
		APIURL:       "https://api.deepaffex.ai:9443",
		WebsocketURL: "wss://api.deepaffex.ai:9080",
	},
	"prod-cn": {
		APIURL:       "https://api.deepaffex.cn:9443",
		WebsocketURL: "wss://api.deepaffex.cn:9080",
	},
	"demo-cn": {
		APIURL:       "https://demo.api.deepaffex.cn:9443",
		WebsocketURL: "wss://demo.api.deepaffex.cn:9080",
	},
}

// LookupServer resolves a server key (case-insensitive) to its
// deployment URLs.
func LookupServer(key string) (Server, error) {
	s, ok := servers[strings.ToLower(key)]
	if !ok {
		return Server{}, ErrUnknownServer
	}
	return s, nil
}

// ServerKeys lists the catalog's server keys in sorted order.
func ServerKeys() []string {
	keys := make([]string, 0, len(servers))
	for k := range servers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
