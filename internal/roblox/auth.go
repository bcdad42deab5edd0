package roblox

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// BanStatus classifies the moderation state of a session cookie.
type BanStatus int

const (
	BanStatusUnknown BanStatus = iota
	BanStatusOK
	BanStatusWarned
	BanStatusBanned
	BanStatusTerminated
	BanStatusInvalidCookie
)

// String returns the UI-facing label for the status.
func (s BanStatus) String() string {
	switch s {
	case BanStatusOK:
		return "OK"
	case BanStatusWarned:
		return "Warned"
	case BanStatusBanned:
		return "Banned"
	case BanStatusTerminated:
		return "Terminated"
	case BanStatusInvalidCookie:
		return "InvalidCookie"
	default:
		return "Unknown"
	}
}

// Usable reports whether requests on behalf of this cookie are worth sending.
// Unknown is treated as usable; the server is the final arbiter.
func (s BanStatus) Usable() bool {
	switch s {
	case BanStatusWarned, BanStatusBanned, BanStatusTerminated, BanStatusInvalidCookie:
		return false
	default:
		return true
	}
}

// CachedBanStatus returns the moderation state for a cookie, served from a
// short-lived cache so refresh loops do not hammer the auth endpoint.
// Transport failures yield BanStatusUnknown and are not cached.
func (c *Client) CachedBanStatus(ctx context.Context, cookie string) BanStatus {
	if status, ok := c.banCache.Get(cookie); ok {
		return status
	}

	status := c.fetchBanStatus(ctx, cookie)
	if status != BanStatusUnknown {
		c.banCache.Set(cookie, status)
	}
	return status
}

// CanUseCookie reports whether the cookie belongs to an account that is not
// banned, warned, terminated or invalid.
func (c *Client) CanUseCookie(ctx context.Context, cookie string) bool {
	return c.CachedBanStatus(ctx, cookie).Usable()
}

// InvalidateBanStatus drops the cached state for a cookie, forcing the next
// check to hit the network (used after cookie rotation).
func (c *Client) InvalidateBanStatus(cookie string) {
	c.banCache.Invalidate(cookie)
}

// AuthenticatedUser identifies the account a session cookie belongs to.
func (c *Client) AuthenticatedUser(ctx context.Context, cookie string) (id uint64, username, displayName string, err error) {
	resp, err := c.Get(ctx, c.endpoints.Users+"/v1/users/authenticated", map[string]string{
		"Cookie": securityCookie + "=" + cookie,
	})
	if err != nil {
		return 0, "", "", err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return 0, "", "", ErrInvalidCookie
	}
	if !resp.OK() {
		return 0, "", "", &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var payload struct {
		ID          uint64 `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, "", "", ErrInvalidResponse
	}
	return payload.ID, payload.Name, payload.DisplayName, nil
}

func (c *Client) fetchBanStatus(ctx context.Context, cookie string) BanStatus {
	resp, err := c.Get(ctx, c.endpoints.Users+"/v1/users/authenticated", map[string]string{
		"Cookie": securityCookie + "=" + cookie,
	})
	if err != nil {
		c.log.Warn("ban status check failed", zap.Error(err))
		return BanStatusUnknown
	}

	switch {
	case resp.OK():
		return BanStatusOK
	case resp.StatusCode == http.StatusUnauthorized:
		return BanStatusInvalidCookie
	case resp.StatusCode == http.StatusForbidden:
		return c.fetchModerationStatus(ctx, cookie)
	default:
		c.log.Warn("unexpected ban status response", zap.Int("status", resp.StatusCode))
		return BanStatusUnknown
	}
}

// fetchModerationStatus distinguishes warnings, bans and terminations for a
// cookie the auth endpoint rejected with 403.
func (c *Client) fetchModerationStatus(ctx context.Context, cookie string) BanStatus {
	resp, err := c.Get(ctx, c.endpoints.Moderation+"/v1/not-approved", map[string]string{
		"Cookie": securityCookie + "=" + cookie,
	})
	if err != nil || !resp.OK() {
		return BanStatusBanned
	}

	var payload struct {
		PunishmentTypeDescription string `json:"punishmentTypeDescription"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		c.log.Warn("failed to parse moderation response", zap.Error(err))
		return BanStatusBanned
	}

	switch payload.PunishmentTypeDescription {
	case "Warn", "Warning":
		return BanStatusWarned
	case "Delete", "Termination":
		return BanStatusTerminated
	default:
		return BanStatusBanned
	}
}
