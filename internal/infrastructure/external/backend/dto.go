package backend

import (
	"encoding/json"
	"time"
)

// API endpoints.
const (
	EndpointSignIn      = "/api/v1/auth/signin"
	EndpointProfile     = "/api/v1/profile"
	EndpointStateSync   = "/api/v1/state/sync"
	EndpointLeaderboard = "/api/v1/leaderboard"
	EndpointCatalog     = "/api/v1/store/catalog"
	EndpointEvents      = "/api/v1/events"
)

// Credentials identify the player and install to the backend.
type Credentials struct {
	PlayerID    string `json:"player_id"`
	DeviceToken string `json:"device_token"`
}

// APIResponse is the backend's uniform response envelope.
type APIResponse struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// authPayload is the signin response payload.
type authPayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ProfileDTO is the player profile as the backend sees it.
type ProfileDTO struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Level       int64     `json:"level"`
	CreatedAt   time.Time `json:"created_at"`
}

// SyncRequestDTO uploads a state summary for server-side verification.
type SyncRequestDTO struct {
	PlayerID   string `json:"player_id"`
	Coins      int64  `json:"coins"`
	Experience int64  `json:"experience"`
	DayCounter int64  `json:"day_counter"`
	StateHash  string `json:"state_hash"`
}

// SyncResultDTO is the backend's verdict on an uploaded state summary.
type SyncResultDTO struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	ServerTime int64  `json:"server_time"`
}

// LeaderboardEntryDTO is one row of the leaderboard.
type LeaderboardEntryDTO struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int64  `json:"score"`
}

// CatalogItemDTO is one purchasable item.
type CatalogItemDTO struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
}

// LiveEventDTO is one scheduled live event.
type LiveEventDTO struct {
	EventID  string    `json:"event_id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}
