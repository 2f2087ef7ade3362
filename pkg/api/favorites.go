package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"transithub/pkg/types"
)

// FavoriteKind names the wire fields of one favorites collection.
type FavoriteKind struct {
	Name      string // path segment: routes | stations
	IDField   string // request/response id field
	ListField string // list response field
}

var (
	RouteKind   = FavoriteKind{Name: "routes", IDField: "route_id", ListField: "favorite_routes"}
	StationKind = FavoriteKind{Name: "stations", IDField: "station_id", ListField: "favorite_stations"}
)

func (k FavoriteKind) path() string {
	return FavoritesDir + "/" + k.Name
}

func escapePath(s string) string {
	return url.PathEscape(s)
}

// ListFavorites returns the ids stored for the token's user.
func (c *Client) ListFavorites(ctx context.Context, kind FavoriteKind, token string) ([]string, error) {
	op := "list_favorite_" + kind.Name
	resp, err := c.do(ctx, request{op: op, method: http.MethodGet, path: kind.path(), token: token})
	if err != nil {
		return nil, err
	}

	var body map[string]json.RawMessage
	if err := decode(op, resp, &body); err != nil {
		return nil, err
	}
	var ids []string
	if raw, ok := body[kind.ListField]; ok {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, &MalformedResponseError{Op: op, StatusCode: resp.statusCode, Err: err}
		}
	}
	return ids, nil
}

// AddFavorite creates a favorite and returns the server's canonical id.
// A 409 answer is returned as a *ConflictError.
func (c *Client) AddFavorite(ctx context.Context, kind FavoriteKind, token, id string) (string, error) {
	op := "add_favorite_" + kind.Name
	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   kind.path(),
		token:  token,
		body:   map[string]string{kind.IDField: id},
	})
	if err != nil {
		var transport *TransportError
		if errors.As(err, &transport) && transport.StatusCode == http.StatusConflict {
			return "", &ConflictError{ID: id, Message: transport.Message}
		}
		return "", err
	}

	if len(resp.body) == 0 {
		return id, nil
	}
	var body struct {
		Favorite map[string]interface{} `json:"favorite"`
	}
	if err := decode(op, resp, &body); err != nil {
		return "", err
	}
	if canonical, ok := body.Favorite[kind.IDField].(string); ok && canonical != "" {
		return canonical, nil
	}
	return id, nil
}

// RemoveFavorite deletes a favorite. 200 and 204 both count as success.
func (c *Client) RemoveFavorite(ctx context.Context, kind FavoriteKind, token, id string) error {
	_, err := c.do(ctx, request{
		op:     "remove_favorite_" + kind.Name,
		method: http.MethodDelete,
		path:   kind.path() + "/" + escapePath(id),
		token:  token,
	})
	return err
}

// Favorites adapts one collection of the client to a typed id.
type Favorites[T ~string] struct {
	client *Client
	kind   FavoriteKind
}

func NewRouteFavorites(c *Client) Favorites[types.RouteID] {
	return Favorites[types.RouteID]{client: c, kind: RouteKind}
}

func NewStationFavorites(c *Client) Favorites[types.StationID] {
	return Favorites[types.StationID]{client: c, kind: StationKind}
}

func (f Favorites[T]) Kind() string { return f.kind.Name }

func (f Favorites[T]) List(ctx context.Context, token string) ([]T, error) {
	ids, err := f.client.ListFavorites(ctx, f.kind, token)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = T(id)
	}
	return out, nil
}

func (f Favorites[T]) Add(ctx context.Context, token string, id T) (T, error) {
	canonical, err := f.client.AddFavorite(ctx, f.kind, token, string(id))
	return T(canonical), err
}

func (f Favorites[T]) Remove(ctx context.Context, token string, id T) error {
	return f.client.RemoveFavorite(ctx, f.kind, token, string(id))
}
