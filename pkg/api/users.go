package api

import (
	"context"
	"net/http"
)

// UserData is the user profile sent on create-user requests. Optional
// fields are omitted when empty.
type UserData struct {
	FirstName   string `json:"FirstName,omitempty"`
	LastName    string `json:"LastName,omitempty"`
	Email       string `json:"Email"`
	Password    string `json:"Password"`
	PhoneNumber string `json:"PhoneNumber,omitempty"`
	Gender      string `json:"Gender,omitempty"`
	DateOfBirth string `json:"DateOfBirth,omitempty"`
	HeightCm    string `json:"HeightCm,omitempty"`
	WeightKg    string `json:"WeightKg,omitempty"`
}

// CreateUser creates a user (200) using the device token and returns
// the new user ID.
func (c *Client) CreateUser(ctx context.Context, deviceToken string, data UserData) (string, error) {
	var resp struct {
		envelope
		ID string `json:"ID"`
	}
	if err := c.do(ctx, http.MethodPost, "/users", deviceToken, data, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &Error{HTTPStatus: http.StatusOK, Code: resp.Code, Message: resp.Message}
	}
	return resp.ID, nil
}

// LoginUser authenticates a user (201) with the device token and
// returns the user token. A missing token in the response surfaces as
// an *Error carrying the application code (INVALID_USER,
// INVALID_PASSWORD).
func (c *Client) LoginUser(ctx context.Context, deviceToken, email, password string) (string, error) {
	req := map[string]string{
		"Email":    email,
		"Password": password,
	}
	var resp struct {
		envelope
		Token string `json:"Token"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/auth", deviceToken, req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{HTTPStatus: http.StatusOK, Code: resp.Code, Message: resp.Message}
	}
	return resp.Token, nil
}

// RetrieveUser fetches the authenticated user's profile (202).
func (c *Client) RetrieveUser(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodGet, "/users", c.Token(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RemoveUser deletes the authenticated user (206).
func (c *Client) RemoveUser(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/users", c.Token(), nil, nil)
}

// UserRole fetches the authenticated user's role (211).
func (c *Client) UserRole(ctx context.Context) (string, error) {
	var resp struct {
		Role string `json:"Role"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/role", c.Token(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Role, nil
}
