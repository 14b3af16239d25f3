package playersync

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
)

// KodiPlayer speaks Kodi's JSON-RPC v2 over HTTP.
type KodiPlayer struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewKodiPlayer(baseURL, token string) ExternalPlayer {
	return &KodiPlayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (k *KodiPlayer) call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return errkind.Wrap(errkind.KindInputInvalid, "encode rpc request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return errkind.Wrap(errkind.KindInputInvalid, "build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if k.token != "" {
		req.Header.Set("Authorization", "Basic "+k.token)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.KindConnectionFailed, "player rpc "+method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return errkind.Newf(errkind.KindAuthenticationFailed, "player rejected credentials")
	}
	if resp.StatusCode >= 400 {
		return errkind.Newf(errkind.KindUnavailable, "player rpc %s returned %d", method, resp.StatusCode).
			WithStatus(resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return errkind.Wrap(errkind.KindSchemaMismatch, "decode rpc response", err)
	}
	if rpc.Error != nil {
		return errkind.Newf(errkind.KindUnavailable, "player rpc %s failed: %s (%d)", method, rpc.Error.Message, rpc.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return errkind.Wrap(errkind.KindSchemaMismatch, "decode rpc result", err)
		}
	}
	return nil
}

func (k *KodiPlayer) Scan(ctx context.Context, directory string) error {
	params := map[string]interface{}{"showdialogs": false}
	if directory != "" {
		// Kodi expects a trailing separator on directory-scoped scans.
		if !strings.HasSuffix(directory, "/") {
			directory += "/"
		}
		params["directory"] = directory
	}
	return k.call(ctx, "VideoLibrary.Scan", params, nil)
}

func (k *KodiPlayer) Refresh(ctx context.Context, playerID int64) error {
	return k.call(ctx, "VideoLibrary.RefreshMovie", map[string]interface{}{
		"movieid":   playerID,
		"ignorenfo": false,
	}, nil)
}

func (k *KodiPlayer) Remove(ctx context.Context, playerID int64) error {
	return k.call(ctx, "VideoLibrary.RemoveMovie", map[string]interface{}{"movieid": playerID}, nil)
}

type kodiMovie struct {
	MovieID   int64  `json:"movieid"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	File      string `json:"file"`
	UniqueIDs struct {
		Imdb string `json:"imdb"`
		Tmdb string `json:"tmdb"`
	} `json:"uniqueid"`
}

func (m *kodiMovie) toItem() *PlayerItem {
	item := &PlayerItem{PlayerID: m.MovieID, Title: m.Title, Year: m.Year, Path: m.File, ImdbID: m.UniqueIDs.Imdb}
	fmt.Sscanf(m.UniqueIDs.Tmdb, "%d", &item.TmdbID)
	return item
}

// Find lists movies filtered by title and matches locally on external id
// first, then on directory plus title and year.
func (k *KodiPlayer) Find(ctx context.Context, q FindQuery) (*PlayerItem, error) {
	params := map[string]interface{}{
		"properties": []string{"title", "year", "file", "uniqueid"},
	}
	if q.Title != "" {
		params["filter"] = map[string]interface{}{
			"field": "title", "operator": "contains", "value": q.Title,
		}
	}
	var result struct {
		Movies []kodiMovie `json:"movies"`
	}
	if err := k.call(ctx, "VideoLibrary.GetMovies", params, &result); err != nil {
		return nil, err
	}

	for i := range result.Movies {
		m := &result.Movies[i]
		if q.IDs.ImdbID != nil && m.UniqueIDs.Imdb == *q.IDs.ImdbID {
			return m.toItem(), nil
		}
		if q.IDs.TmdbID != nil && m.UniqueIDs.Tmdb == fmt.Sprintf("%d", *q.IDs.TmdbID) {
			return m.toItem(), nil
		}
	}
	for i := range result.Movies {
		m := &result.Movies[i]
		if q.Path != "" && strings.HasPrefix(m.File, q.Path) &&
			strings.EqualFold(m.Title, q.Title) && (q.Year == 0 || m.Year == q.Year) {
			return m.toItem(), nil
		}
	}
	return nil, errkind.Newf(errkind.KindNotFound, "movie not in player library: %s", q.Title)
}

func (k *KodiPlayer) IsScanning(ctx context.Context) (bool, error) {
	var raw map[string]bool
	err := k.call(ctx, "XBMC.GetInfoBooleans", map[string]interface{}{
		"booleans": []string{"Library.IsScanningVideo"},
	}, &raw)
	if err != nil {
		return false, err
	}
	return raw["Library.IsScanningVideo"], nil
}

func (k *KodiPlayer) HasActivePlayback(ctx context.Context) (bool, error) {
	var players []struct {
		PlayerID int    `json:"playerid"`
		Type     string `json:"type"`
	}
	if err := k.call(ctx, "Player.GetActivePlayers", nil, &players); err != nil {
		return false, err
	}
	return len(players) > 0, nil
}
