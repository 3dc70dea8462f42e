package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fintrack/fintrack/internal/apiclient"
)

// Doer sends authenticated API requests. *apiclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *apiclient.Request, out any) error
}

// Resource is a CRUD collection on the finance API, e.g. /income.
type Resource[T any] struct {
	api  Doer
	name string
	path string
}

func NewResource[T any](api Doer, name, path string) *Resource[T] {
	return &Resource[T]{api: api, name: name, path: path}
}

func (r *Resource[T]) Name() string { return r.name }

// List fetches the collection, filtered to month when it is set.
func (r *Resource[T]) List(ctx context.Context, month Month) ([]T, error) {
	var query url.Values
	if !month.IsZero() {
		query = url.Values{"month": {month.String()}}
	}
	var raw json.RawMessage
	if err := r.api.Do(ctx, &apiclient.Request{Method: http.MethodGet, Path: r.path, Query: query}, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList[T](raw, r.name)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s list: %w", r.name, err)
	}
	return items, nil
}

func (r *Resource[T]) Get(ctx context.Context, id ID) (T, error) {
	return r.one(ctx, http.MethodGet, r.itemPath(id), nil)
}

func (r *Resource[T]) Create(ctx context.Context, item T) (T, error) {
	return r.one(ctx, http.MethodPost, r.path, item)
}

func (r *Resource[T]) Update(ctx context.Context, id ID, item T) (T, error) {
	return r.one(ctx, http.MethodPut, r.itemPath(id), item)
}

func (r *Resource[T]) Delete(ctx context.Context, id ID) error {
	return r.api.Do(ctx, &apiclient.Request{Method: http.MethodDelete, Path: r.itemPath(id)}, nil)
}

func (r *Resource[T]) itemPath(id ID) string {
	return r.path + "/" + url.PathEscape(string(id))
}

func (r *Resource[T]) one(ctx context.Context, method, path string, body any) (T, error) {
	var zero T
	var raw json.RawMessage
	req := &apiclient.Request{Method: method, Path: path}
	if body != nil {
		req.Body = body
	}
	if err := r.api.Do(ctx, req, &raw); err != nil {
		return zero, err
	}
	item, err := decodeItem[T](raw)
	if err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", r.name, err)
	}
	return item, nil
}

// decodeList accepts a bare array or an object wrapping it under data,
// items or the collection name.
func decodeList[T any](raw json.RawMessage, name string) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	for _, key := range []string{"data", "items", name} {
		inner, ok := envelope[key]
		if !ok {
			continue
		}
		inner = bytes.TrimSpace(inner)
		if len(inner) > 0 && inner[0] == '[' {
			var items []T
			if err := json.Unmarshal(inner, &items); err != nil {
				return nil, err
			}
			return items, nil
		}
		if len(inner) > 0 && inner[0] == '{' {
			return decodeList[T](inner, name)
		}
	}
	return nil, fmt.Errorf("no list found in response")
}

// decodeItem accepts a bare object or one wrapped under data.
func decodeItem[T any](raw json.RawMessage) (T, error) {
	var item T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return item, nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if d := bytes.TrimSpace(envelope.Data); len(d) > 0 && d[0] == '{' {
			raw = d
		}
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, err
	}
	return item, nil
}
