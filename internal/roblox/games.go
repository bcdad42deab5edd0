package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GameDetail is the summary record for a game (universe).
type GameDetail struct {
	Genre           string
	Description     string
	Visits          uint64
	MaxPlayers      int
	CreatedISO      string
	UpdatedISO      string
	CreatorName     string
	CreatorVerified bool
}

// PublicServerInfo describes one joinable public server instance.
type PublicServerInfo struct {
	JobID      string  `json:"id"`
	Playing    int     `json:"playing"`
	MaxPlayers int     `json:"maxPlayers"`
	FPS        float64 `json:"fps"`
	Ping       int     `json:"ping"`
}

// ServerPage is one page of public servers with pagination cursors.
type ServerPage struct {
	Data       []PublicServerInfo
	NextCursor string
	PrevCursor string
}

// NewJoinSessionID returns a fresh browser-tracker style session id used to
// correlate a game join.
func NewJoinSessionID() string {
	return uuid.NewString()
}

// GamesService wraps the games API.
type GamesService struct {
	client *Client
	log    *zap.Logger
}

// NewGamesService builds a GamesService over the given client.
func NewGamesService(client *Client, log *zap.Logger) *GamesService {
	if log == nil {
		log = zap.NewNop()
	}
	return &GamesService{client: client, log: log}
}

// GetGameDetail fetches the summary for a universe.
func (g *GamesService) GetGameDetail(ctx context.Context, universeID uint64) (GameDetail, error) {
	u := fmt.Sprintf("%s/v1/games?universeIds=%d", g.client.endpoints.Games, universeID)
	resp, err := g.client.Get(ctx, u, nil)
	if err != nil {
		return GameDetail{}, err
	}
	if !resp.OK() {
		return GameDetail{}, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		Data []struct {
			Genre       string `json:"genre"`
			Description string `json:"description"`
			Visits      uint64 `json:"visits"`
			MaxPlayers  int    `json:"maxPlayers"`
			Created     string `json:"created"`
			Updated     string `json:"updated"`
			Creator     *struct {
				Name             string `json:"name"`
				HasVerifiedBadge bool   `json:"hasVerifiedBadge"`
			} `json:"creator"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		g.log.Error("failed to parse game detail", zap.Error(err))
		return GameDetail{}, ErrInvalidResponse
	}
	if len(parsed.Data) == 0 {
		return GameDetail{}, ErrInvalidResponse
	}

	j := parsed.Data[0]
	d := GameDetail{
		Genre:       j.Genre,
		Description: j.Description,
		Visits:      j.Visits,
		MaxPlayers:  j.MaxPlayers,
		CreatedISO:  j.Created,
		UpdatedISO:  j.Updated,
	}
	if j.Creator != nil {
		d.CreatorName = j.Creator.Name
		d.CreatorVerified = j.Creator.HasVerifiedBadge
	}
	return d, nil
}

// GetPublicServers fetches one page of public servers for a place.
func (g *GamesService) GetPublicServers(ctx context.Context, placeID uint64, cursor string) (ServerPage, error) {
	u := fmt.Sprintf("%s/v1/games/%d/servers/Public?sortOrder=Asc&limit=100", g.client.endpoints.Games, placeID)
	if cursor != "" {
		u += "&cursor=" + url.QueryEscape(cursor)
	}

	resp, err := g.client.Get(ctx, u, nil)
	if err != nil {
		return ServerPage{}, err
	}
	if !resp.OK() {
		return ServerPage{}, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		NextPageCursor     *string            `json:"nextPageCursor"`
		PreviousPageCursor *string            `json:"previousPageCursor"`
		Data               []PublicServerInfo `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		g.log.Error("failed to parse servers page", zap.Error(err))
		return ServerPage{}, ErrInvalidResponse
	}

	page := ServerPage{Data: parsed.Data}
	if parsed.NextPageCursor != nil {
		page.NextCursor = *parsed.NextPageCursor
	}
	if parsed.PreviousPageCursor != nil {
		page.PrevCursor = *parsed.PreviousPageCursor
	}
	return page, nil
}
