package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/altmanapp/altman/internal/cache"
)

// presenceTTL is how long a fetched presence stays trustworthy.
const presenceTTL = time.Minute

// PresenceData describes a user's last known activity.
type PresenceData struct {
	Presence     string
	LastLocation string
	PlaceID      uint64
	JobID        string
}

// VoiceSettings is the outcome of a voice-chat eligibility check.
type VoiceSettings struct {
	Status      string
	BannedUntil int64
}

// Presence fetch failures surface as sentinel errors from GetPresenceData;
// the string-returning variants degrade to labels instead.
var (
	ErrUnusableCookie  = errors.New("cookie is banned, warned or terminated")
	ErrInvalidCookie   = errors.New("cookie is invalid")
	ErrInvalidResponse = errors.New("response missing expected fields")
)

// HTTPStatusError reports a non-2xx presence response.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return "unexpected http status " + strconv.Itoa(e.StatusCode)
}

// PresenceTypeToString maps the wire presence type to its label.
func PresenceTypeToString(t int) string {
	switch t {
	case 1:
		return "Online"
	case 2:
		return "InGame"
	case 3:
		return "InStudio"
	case 4:
		return "Invisible"
	default:
		return "Offline"
	}
}

// SessionService fetches and caches account presence and voice-chat state.
// Each instance owns its presence cache; construct one per process and share
// it, rather than relying on globals.
type SessionService struct {
	client *Client
	cache  *cache.Cache[uint64, PresenceData]
	log    *zap.Logger
}

// NewSessionService builds a SessionService over the given client.
func NewSessionService(client *Client, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		client: client,
		cache:  cache.New[uint64, PresenceData](presenceTTL),
		log:    log,
	}
}

type wirePresence struct {
	UserID           uint64  `json:"userId"`
	UserPresenceType int     `json:"userPresenceType"`
	LastLocation     string  `json:"lastLocation"`
	PlaceID          *uint64 `json:"placeId"`
	GameID           *string `json:"gameId"`
}

type presenceResponse struct {
	UserPresences []wirePresence `json:"userPresences"`
}

func presenceFromWire(up wirePresence) PresenceData {
	data := PresenceData{
		Presence:     PresenceTypeToString(up.UserPresenceType),
		LastLocation: up.LastLocation,
	}
	if up.PlaceID != nil {
		data.PlaceID = *up.PlaceID
	}
	if up.GameID != nil {
		// The API uses field name 'gameId' for the job id.
		data.JobID = *up.GameID
	}
	return data
}

// GetPresence returns the presence label for a single user. Failures never
// propagate: HTTP 403 yields "Banned", anything else "Offline", and an
// unusable cookie yields its status label, so a UI refresh loop cannot crash
// on a bad account.
func (s *SessionService) GetPresence(ctx context.Context, cookie string, userID uint64) string {
	status := s.client.CachedBanStatus(ctx, cookie)
	if status == BanStatusInvalidCookie {
		return "InvalidCookie"
	}
	if !status.Usable() {
		return status.String()
	}

	if cached, ok := s.cache.Get(userID); ok {
		return cached.Presence
	}

	data, err := s.fetchPresences(ctx, cookie, []uint64{userID})
	if err != nil {
		s.log.Error("presence lookup failed", zap.Uint64("userId", userID), zap.Error(err))
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden {
			return "Banned"
		}
		return "Offline"
	}

	p, ok := data[userID]
	if !ok {
		return "Offline"
	}
	s.log.Info("got user presence", zap.Uint64("userId", userID), zap.String("presence", p.Presence))
	return p.Presence
}

// GetPresenceData returns the full presence record for a single user, or an
// error classifying the failure.
func (s *SessionService) GetPresenceData(ctx context.Context, cookie string, userID uint64) (PresenceData, error) {
	status := s.client.CachedBanStatus(ctx, cookie)
	if status == BanStatusInvalidCookie {
		return PresenceData{}, ErrInvalidCookie
	}
	if !status.Usable() {
		return PresenceData{}, ErrUnusableCookie
	}

	if cached, ok := s.cache.Get(userID); ok {
		return cached, nil
	}

	data, err := s.fetchPresences(ctx, cookie, []uint64{userID})
	if err != nil {
		return PresenceData{}, err
	}
	p, ok := data[userID]
	if !ok {
		return PresenceData{}, ErrInvalidResponse
	}
	return p, nil
}

// GetPresences returns presence for many users at once. Cached entries are
// served locally and only the uncached remainder goes to the network in a
// single batched request. If that request fails the cached subset is still
// returned: partial success over total failure.
func (s *SessionService) GetPresences(ctx context.Context, userIDs []uint64, cookie string) map[uint64]PresenceData {
	if !s.client.CanUseCookie(ctx, cookie) || len(userIDs) == 0 {
		return map[uint64]PresenceData{}
	}

	result := make(map[uint64]PresenceData, len(userIDs))
	var uncached []uint64
	for _, id := range userIDs {
		if cached, ok := s.cache.Get(id); ok {
			result[id] = cached
		} else {
			uncached = append(uncached, id)
		}
	}
	if len(uncached) == 0 {
		return result
	}

	s.log.Info("fetching batch presence",
		zap.Int("requested", len(userIDs)), zap.Int("cached", len(result)))

	fetched, err := s.fetchPresences(ctx, cookie, uncached)
	if err != nil {
		s.log.Error("batch presence failed", zap.Error(err))
		return result
	}
	for id, p := range fetched {
		result[id] = p
	}
	return result
}

// fetchPresences issues one presence request for the given ids and caches
// every entry in the response.
func (s *SessionService) fetchPresences(ctx context.Context, cookie string, userIDs []uint64) (map[uint64]PresenceData, error) {
	payload, err := json.Marshal(map[string][]uint64{"userIds": userIDs})
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Post(ctx, s.client.endpoints.Presence+"/v1/presence/users", map[string]string{
		"Cookie":       securityCookie + "=" + cookie,
		"Content-Type": "application/json",
	}, payload)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var parsed presenceResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, ErrInvalidResponse
	}

	out := make(map[uint64]PresenceData, len(parsed.UserPresences))
	for _, up := range parsed.UserPresences {
		id := up.UserID
		if id == 0 && len(userIDs) == 1 {
			// Single-user responses may omit the id field.
			id = userIDs[0]
		}
		if id == 0 {
			continue
		}
		data := presenceFromWire(up)
		s.cache.Set(id, data)
		out[id] = data
	}
	return out, nil
}

// GetVoiceChatStatus reports voice-chat eligibility for the account behind
// the cookie. Accounts already known to be banned, warned or terminated
// short-circuit to "N/A" without a network call.
func (s *SessionService) GetVoiceChatStatus(ctx context.Context, cookie string) VoiceSettings {
	status := s.client.CachedBanStatus(ctx, cookie)
	if !status.Usable() {
		return VoiceSettings{Status: "N/A"}
	}

	resp, err := s.client.Get(ctx, s.client.endpoints.Voice+"/v1/settings", map[string]string{
		"Cookie": securityCookie + "=" + cookie,
	})
	if err != nil || !resp.OK() {
		s.log.Info("failed to fetch voice settings", zap.Error(err))
		return VoiceSettings{Status: "Unknown"}
	}

	var parsed struct {
		IsBanned       bool `json:"isBanned"`
		IsVoiceEnabled bool `json:"isVoiceEnabled"`
		IsUserEligible bool `json:"isUserEligible"`
		IsUserOptIn    bool `json:"isUserOptIn"`
		BannedUntil    *struct {
			Seconds int64 `json:"Seconds"`
		} `json:"bannedUntil"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		s.log.Warn("failed to parse voice settings", zap.Error(err))
		return VoiceSettings{Status: "Unknown"}
	}

	// Precedence: banned > enabled-or-opted-in > eligible > disabled.
	switch {
	case parsed.IsBanned:
		var until int64
		if parsed.BannedUntil != nil {
			until = parsed.BannedUntil.Seconds
		}
		return VoiceSettings{Status: "Banned", BannedUntil: until}
	case parsed.IsVoiceEnabled || parsed.IsUserOptIn:
		return VoiceSettings{Status: "Enabled"}
	case parsed.IsUserEligible:
		return VoiceSettings{Status: "Disabled"}
	default:
		return VoiceSettings{Status: "Disabled"}
	}
}

// InvalidatePresence forces the next presence lookup for userID to re-fetch.
func (s *SessionService) InvalidatePresence(userID uint64) {
	s.cache.Invalidate(userID)
}

// ClearPresenceCache empties the presence cache.
func (s *SessionService) ClearPresenceCache() {
	s.cache.Clear()
}

// SeedPresence primes the cache with a known presence record (used by tests
// and by callers that already hold fresh data).
func (s *SessionService) SeedPresence(userID uint64, data PresenceData) {
	s.cache.Set(userID, data)
}
