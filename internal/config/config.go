// Package config persists API credentials between runs so that device
// and user tokens are recycled instead of re-issued on every start.
//
// The cache is a small JSON tree keyed by server, then license key,
// then user email:
//
//	{
//	  "prod": {
//	    "LICENSE-KEY": {
//	      "device_token": "...",
//	      "users": {"ops@example.com": {"user_token": "..."}}
//	    }
//	  }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the cache file name under the user config directory.
const FileName = "config.json"

// Cache holds recycled credentials for every server and license key the
// client has authenticated against.
type Cache struct {
	// Servers maps a server key (for example "prod") to its licenses.
	Servers map[string]map[string]*LicenseEntry

	// path stores where the cache was loaded from.
	path string
}

// LicenseEntry holds the credentials issued under one license key.
type LicenseEntry struct {
	// DeviceToken is the token returned by license registration.
	DeviceToken string `json:"device_token,omitempty"`

	// Users maps a login email to its recycled user token.
	Users map[string]*UserEntry `json:"users,omitempty"`
}

// UserEntry holds the credentials of one logged-in user.
type UserEntry struct {
	// UserToken is the token returned by login.
	UserToken string `json:"user_token,omitempty"`
}

// DefaultPath returns the conventional cache location under the user
// config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "dfx", FileName), nil
}

// Load reads the cache from path. A missing file is not an error: the
// first run starts with an empty cache that Save creates.
func Load(path string) (*Cache, error) {
	c := &Cache{
		Servers: make(map[string]map[string]*LicenseEntry),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &c.Servers); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Save writes the cache back to the file it was loaded from, creating
// parent directories as needed. Entries that hold no credentials are
// pruned so the file never accumulates empty branches.
func (c *Cache) Save() error {
	return c.SaveTo(c.path)
}

// SaveTo writes the cache to the specified path.
func (c *Cache) SaveTo(path string) error {
	if path == "" {
		return fmt.Errorf("config: no cache path set")
	}
	c.prune()

	data, err := json.MarshalIndent(c.Servers, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode cache: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create cache dir: %w", err)
	}
	// Tokens are credentials, keep the file owner-only.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	c.path = path
	return nil
}

// Path returns where the cache was loaded from.
func (c *Cache) Path() string {
	return c.path
}

// DeviceToken returns the recycled device token for a server and
// license key, or "" when none is cached.
func (c *Cache) DeviceToken(server, license string) string {
	if e := c.licenseEntry(server, license); e != nil {
		return e.DeviceToken
	}
	return ""
}

// SetDeviceToken records the device token issued for a server and
// license key. An empty token clears the entry.
func (c *Cache) SetDeviceToken(server, license, token string) {
	c.ensureLicense(server, license).DeviceToken = token
}

// UserToken returns the recycled user token for a login email under a
// server and license key, or "" when none is cached.
func (c *Cache) UserToken(server, license, email string) string {
	e := c.licenseEntry(server, license)
	if e == nil {
		return ""
	}
	if u, ok := e.Users[email]; ok {
		return u.UserToken
	}
	return ""
}

// SetUserToken records the user token issued to a login email under a
// server and license key. An empty token clears the entry.
func (c *Cache) SetUserToken(server, license, email, token string) {
	e := c.ensureLicense(server, license)
	if e.Users == nil {
		e.Users = make(map[string]*UserEntry)
	}
	e.Users[email] = &UserEntry{UserToken: token}
}

// Clear drops every cached credential. The caller decides whether to
// Save the now-empty cache.
func (c *Cache) Clear() {
	c.Servers = make(map[string]map[string]*LicenseEntry)
}

func (c *Cache) licenseEntry(server, license string) *LicenseEntry {
	if licenses, ok := c.Servers[server]; ok {
		return licenses[license]
	}
	return nil
}

func (c *Cache) ensureLicense(server, license string) *LicenseEntry {
	licenses, ok := c.Servers[server]
	if !ok {
		licenses = make(map[string]*LicenseEntry)
		c.Servers[server] = licenses
	}
	e, ok := licenses[license]
	if !ok {
		e = &LicenseEntry{}
		licenses[license] = e
	}
	return e
}

// prune removes users without tokens, licenses without any credential,
// and servers without any license.
func (c *Cache) prune() {
	for server, licenses := range c.Servers {
		for license, e := range licenses {
			for email, u := range e.Users {
				if u == nil || u.UserToken == "" {
					delete(e.Users, email)
				}
			}
			if len(e.Users) == 0 {
				e.Users = nil
			}
			if e.DeviceToken == "" && e.Users == nil {
				delete(licenses, license)
			}
		}
		if len(licenses) == 0 {
			delete(c.Servers, server)
		}
	}
}
