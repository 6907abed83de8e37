package api

import (
	"context"
	"net/http"
)

// registerLicenseRequest is the register-license (705) payload. The
// device type, identifier and version are fixed for this client.
type registerLicenseRequest struct {
	Key          string `json:"Key"`
	DeviceTypeID string `json:"DeviceTypeID"`
	Name         string `json:"Name"`
	Identifier   string `json:"Identifier"`
	Version      string `json:"Version"`
}

type registerLicenseResponse struct {
	envelope
	Token    string `json:"Token"`
	DeviceID string `json:"DeviceID"`
}

// RegisterLicense registers this device under the organization license
// and returns the issued device token. Runs unauthenticated.
func (c *Client) RegisterLicense(ctx context.Context, licenseKey, deviceName string) (string, error) {
	req := registerLicenseRequest{
		Key:          licenseKey,
		DeviceTypeID: "LINUX",
		Name:         deviceName,
		Identifier:   "DFXCLIENT",
		Version:      "1.0.0",
	}
	var resp registerLicenseResponse
	if err := c.do(ctx, http.MethodPost, "/organizations/licenses", "", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{HTTPStatus: http.StatusOK, Code: resp.Code, Message: resp.Message}
	}
	return resp.Token, nil
}

// CreateOrgUser creates a user within the organization (713) using the
// given token.
func (c *Client) CreateOrgUser(ctx context.Context, token string, data UserData) (string, error) {
	var resp struct {
		envelope
		ID string `json:"ID"`
	}
	if err := c.do(ctx, http.MethodPost, "/organizations/users", token, data, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &Error{HTTPStatus: http.StatusOK, Code: resp.Code, Message: resp.Message}
	}
	return resp.ID, nil
}

// OrgLogin authenticates against an organization (717) and returns the
// organization token.
func (c *Client) OrgLogin(ctx context.Context, token, email, password, orgID string) (string, error) {
	req := map[string]string{
		"Email":      email,
		"Password":   password,
		"Identifier": orgID,
	}
	var resp struct {
		envelope
		Token string `json:"Token"`
	}
	if err := c.do(ctx, http.MethodPost, "/organizations/auth", token, req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{HTTPStatus: http.StatusOK, Code: resp.Code, Message: resp.Message}
	}
	return resp.Token, nil
}
