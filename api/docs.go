package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"slotbook/models"
	"slotbook/utils"

	"go.uber.org/zap"
)

const docTimeout = 5 * time.Second

// DocsClient reads the static JSON documents: the bulk slots snapshot and
// the club payments document. Both sit behind plain HTTP GET on a repository
// host, so freshness is forced with a point-in-time query parameter that
// defeats intermediary caching.
type DocsClient struct {
	slotsURL string
	clubURL  string
	http     *http.Client
	clock    utils.Clock
	logger   *zap.Logger
}

func NewDocsClient(slotsURL, clubURL string, clock utils.Clock, logger *zap.Logger) *DocsClient {
	return &DocsClient{
		slotsURL: slotsURL,
		clubURL:  clubURL,
		http:     &http.Client{Timeout: docTimeout},
		clock:    clock,
		logger:   logger,
	}
}

// FetchSlots retrieves the bulk slots snapshot.
func (d *DocsClient) FetchSlots(ctx context.Context) (models.SlotsDocument, error) {
	var doc models.SlotsDocument
	if err := d.get(ctx, d.slotsURL, &doc); err != nil {
		return models.SlotsDocument{}, fmt.Errorf("fetch slots document: %w", err)
	}
	return doc, nil
}

// FetchClub retrieves the club payments document.
func (d *DocsClient) FetchClub(ctx context.Context) (models.ClubDocument, error) {
	var doc models.ClubDocument
	if err := d.get(ctx, d.clubURL, &doc); err != nil {
		return models.ClubDocument{}, fmt.Errorf("fetch club document: %w", err)
	}
	return doc, nil
}

func (d *DocsClient) get(ctx context.Context, rawURL string, dest any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse document url %q: %w", rawURL, err)
	}
	// Cache buster keeps CDN and proxy layers from serving yesterday's file.
	q := u.Query()
	q.Set("t", strconv.FormatInt(d.clock.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
