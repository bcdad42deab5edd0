package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// FriendInfo is the minimal identity triple used across friend lists and
// user lookups.
type FriendInfo struct {
	ID          uint64 `json:"id"`
	Username    string `json:"name"`
	DisplayName string `json:"displayName"`
}

// IncomingFriendRequest describes one pending request.
type IncomingFriendRequest struct {
	UserID           uint64
	Username         string
	DisplayName      string
	SentAt           string
	Mutuals          []string
	OriginSourceType string
	SourceUniverseID uint64
}

// FriendRequestsPage is one page of incoming requests with cursors.
type FriendRequestsPage struct {
	Data       []IncomingFriendRequest
	NextCursor string
	PrevCursor string
}

// ActionResult is the outcome of a mutating social action. Success is a
// boolean; Raw carries the server's response body for diagnostics. Mutating
// actions never return errors across this boundary: authentication failures
// land in Raw with OK=false.
type ActionResult struct {
	OK  bool
	Raw string
}

// SocialService wraps the friends/users APIs.
type SocialService struct {
	client *Client
	log    *zap.Logger
}

// NewSocialService builds a SocialService over the given client.
func NewSocialService(client *Client, log *zap.Logger) *SocialService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SocialService{client: client, log: log}
}

// GetFriends returns the friend list for a user. An unusable cookie yields
// an empty list without a network call.
func (s *SocialService) GetFriends(ctx context.Context, userID uint64, cookie string) ([]FriendInfo, error) {
	if !s.client.CanUseCookie(ctx, cookie) {
		return nil, ErrUnusableCookie
	}

	s.log.Info("fetching friends list", zap.Uint64("userId", userID))

	u := fmt.Sprintf("%s/v1/users/%d/friends", s.client.endpoints.Friends, userID)
	resp, err := s.client.Get(ctx, u, map[string]string{
		"Cookie": securityCookie + "=" + cookie,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		Data []FriendInfo `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, ErrInvalidResponse
	}
	return parsed.Data, nil
}

// GetUserInfo fetches the public identity of a user, no cookie required.
func (s *SocialService) GetUserInfo(ctx context.Context, userID uint64) (FriendInfo, error) {
	u := fmt.Sprintf("%s/v1/users/%d", s.client.endpoints.Users, userID)
	resp, err := s.client.Get(ctx, u, map[string]string{"Accept": "application/json"})
	if err != nil {
		return FriendInfo{}, err
	}
	if !resp.OK() {
		return FriendInfo{}, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var info FriendInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return FriendInfo{}, ErrInvalidResponse
	}
	return info, nil
}

// GetUserIDFromUsername resolves a username to a user id, excluding banned
// users. Returns 0 with an error when the name is unknown.
func (s *SocialService) GetUserIDFromUsername(ctx context.Context, username string) (uint64, error) {
	payload, _ := json.Marshal(map[string]any{
		"usernames":          []string{username},
		"excludeBannedUsers": true,
	})

	resp, err := s.client.Post(ctx, s.client.endpoints.Users+"/v1/usernames/users", map[string]string{
		"Content-Type": "application/json",
	}, payload)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		Data []struct {
			ID uint64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || len(parsed.Data) == 0 {
		return 0, fmt.Errorf("username %q not found", username)
	}
	return parsed.Data[0].ID, nil
}

// GetIncomingFriendRequests fetches one page of pending requests. A parse
// failure part-way through returns whatever was safely decoded so far.
func (s *SocialService) GetIncomingFriendRequests(ctx context.Context, cookie, cursor string, limit int) (FriendRequestsPage, error) {
	var page FriendRequestsPage
	if !s.client.CanUseCookie(ctx, cookie) {
		return page, ErrUnusableCookie
	}
	if limit <= 0 {
		limit = 100
	}

	u := s.client.endpoints.Friends + "/v1/my/friends/requests?limit=" + strconv.Itoa(limit)
	if cursor != "" {
		u += "&cursor=" + url.QueryEscape(cursor)
	}

	resp, err := s.client.Get(ctx, u, map[string]string{
		"Cookie": securityCookie + "=" + cookie,
	})
	if err != nil {
		return page, err
	}
	if !resp.OK() {
		return page, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		NextPageCursor     *string `json:"nextPageCursor"`
		PreviousPageCursor *string `json:"previousPageCursor"`
		Data               []struct {
			ID            uint64 `json:"id"`
			Name          string `json:"name"`
			DisplayName   string `json:"displayName"`
			FriendRequest *struct {
				SentAt           string `json:"sentAt"`
				OriginSourceType string `json:"originSourceType"`
				SourceUniverseID uint64 `json:"sourceUniverseId"`
			} `json:"friendRequest"`
			MutualFriendsList []string `json:"mutualFriendsList"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		s.log.Error("error parsing incoming friend requests", zap.Error(err))
		return page, nil
	}

	if parsed.NextPageCursor != nil {
		page.NextCursor = *parsed.NextPageCursor
	}
	if parsed.PreviousPageCursor != nil {
		page.PrevCursor = *parsed.PreviousPageCursor
	}
	for _, it := range parsed.Data {
		r := IncomingFriendRequest{
			UserID:      it.ID,
			Username:    it.Name,
			DisplayName: it.DisplayName,
			Mutuals:     it.MutualFriendsList,
		}
		if it.FriendRequest != nil {
			r.SentAt = it.FriendRequest.SentAt
			r.OriginSourceType = it.FriendRequest.OriginSourceType
			r.SourceUniverseID = it.FriendRequest.SourceUniverseID
		}
		page.Data = append(page.Data, r)
	}
	return page, nil
}

// mutate runs one authenticated state-mutating POST and folds the outcome
// into an ActionResult.
func (s *SocialService) mutate(ctx context.Context, action, u string, auth AuthConfig, body []byte) ActionResult {
	if !s.client.CanUseCookie(ctx, auth.Cookie) {
		return ActionResult{Raw: "Banned/warned cookie"}
	}

	resp, err := s.client.PostWithCSRF(ctx, u, auth, body)
	if err != nil {
		s.log.Error(action+" failed", zap.Error(err))
		return ActionResult{Raw: err.Error()}
	}
	if !resp.OK() {
		s.log.Error(action+" failed",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", resp.Body))
		return ActionResult{Raw: string(resp.Body)}
	}
	return ActionResult{OK: true, Raw: string(resp.Body)}
}

// SendFriendRequest sends a friend request to the target user.
func (s *SocialService) SendFriendRequest(ctx context.Context, targetUserID uint64, auth AuthConfig) ActionResult {
	u := fmt.Sprintf("%s/v1/users/%d/request-friendship", s.client.endpoints.Friends, targetUserID)
	body, _ := json.Marshal(map[string]int{"friendshipOriginSourceType": 0})

	res := s.mutate(ctx, "friend request", u, auth, body)
	if !res.OK {
		return res
	}

	// The endpoint can answer 200 with success=false.
	var parsed struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(res.Raw), &parsed); err == nil && !parsed.Success {
		s.log.Error("friend request API failure", zap.String("body", res.Raw))
		res.OK = false
	}
	return res
}

// AcceptFriendRequest accepts a pending request from the target user.
func (s *SocialService) AcceptFriendRequest(ctx context.Context, targetUserID uint64, auth AuthConfig) ActionResult {
	u := fmt.Sprintf("%s/v1/users/%d/accept-friend-request", s.client.endpoints.Friends, targetUserID)
	return s.mutate(ctx, "accept friend request", u, auth, nil)
}

// Unfriend removes the target user from the account's friends.
func (s *SocialService) Unfriend(ctx context.Context, targetUserID uint64, auth AuthConfig) ActionResult {
	u := fmt.Sprintf("%s/v1/users/%d/unfriend", s.client.endpoints.Friends, targetUserID)
	return s.mutate(ctx, "unfriend", u, auth, nil)
}

// FollowUser follows the target user.
func (s *SocialService) FollowUser(ctx context.Context, targetUserID uint64, auth AuthConfig) ActionResult {
	u := fmt.Sprintf("%s/v1/users/%d/follow", s.client.endpoints.Friends, targetUserID)
	return s.mutate(ctx, "follow", u, auth, nil)
}

// UnfollowUser unfollows the target user.
func (s *SocialService) UnfollowUser(ctx context.Context, targetUserID uint64, auth AuthConfig) ActionResult {
	u := fmt.Sprintf("%s/v1/users/%d/unfollow", s.client.endpoints.Friends, targetUserID)
	return s.mutate(ctx, "unfollow", u, auth, nil)
}

// BlockUser blocks the target user.
func (s *SocialService) BlockUser(ctx context.Context, targetUserID uint64, auth AuthConfig) ActionResult {
	u := fmt.Sprintf("%s/users/%d/block", s.client.endpoints.Web, targetUserID)
	return s.mutate(ctx, "block", u, auth, nil)
}
