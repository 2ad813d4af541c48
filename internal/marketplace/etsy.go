package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	etsyAPIBase     = "https://openapi.etsy.com/v3/application"
	etsyTokenURL    = "https://api.etsy.com/v3/public/oauth/token"
	etsyPageLimit   = 100
	etsyHTTPTimeout = 100 * time.Second
)

// EtsyClient talks to the Etsy Open API v3. It holds an API keystring plus
// an OAuth token pair and refreshes the access token once on a 401.
type EtsyClient struct {
	shopID     int64
	keystring  string
	httpClient *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewEtsyClient(shopID int64, keystring, accessToken, refreshToken string) *EtsyClient {
	return &EtsyClient{
		shopID:       shopID,
		keystring:    keystring,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: etsyHTTPTimeout},
	}
}

type listingResult struct {
	ListingID   int64    `json:"listing_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Views       int      `json:"views"`
	State       string   `json:"state"`
}

type listingsPage struct {
	Count   int             `json:"count"`
	Results []listingResult `json:"results"`
}

type imagesPage struct {
	Results []struct {
		ListingImageID int64  `json:"listing_image_id"`
		Rank           int    `json:"rank"`
		URLFull        string `json:"url_fullxfull"`
	} `json:"results"`
}

func (c *EtsyClient) FetchListing(ctx context.Context, listingID int64) (*ListingFields, error) {
	var result listingResult
	endpoint := fmt.Sprintf("/listings/%d", listingID)
	if err := c.getJSON(ctx, endpoint, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch listing %d: %w", listingID, err)
	}
	return toListingFields(result), nil
}

func (c *EtsyClient) FetchImages(ctx context.Context, listingID int64) ([]ListingImage, error) {
	var page imagesPage
	endpoint := fmt.Sprintf("/listings/%d/images", listingID)
	if err := c.getJSON(ctx, endpoint, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch images for listing %d: %w", listingID, err)
	}
	images := make([]ListingImage, 0, len(page.Results))
	for _, entry := range page.Results {
		images = append(images, ListingImage{
			ImageID: entry.ListingImageID,
			URL:     entry.URLFull,
			Rank:    entry.Rank,
		})
	}
	return images, nil
}

// FetchAllListings pages through the shop's active listings.
func (c *EtsyClient) FetchAllListings(ctx context.Context) ([]*ListingFields, error) {
	var all []*ListingFields
	offset := 0
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(etsyPageLimit))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("sort_on", "created")
		params.Set("sort_order", "desc")

		var page listingsPage
		endpoint := fmt.Sprintf("/shops/%d/listings/active", c.shopID)
		if err := c.getJSON(ctx, endpoint, params, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch listings page at offset %d: %w", offset, err)
		}
		if len(page.Results) == 0 {
			break
		}
		for _, result := range page.Results {
			all = append(all, toListingFields(result))
		}
		offset += len(page.Results)
		if len(page.Results) < etsyPageLimit {
			break
		}
	}
	return all, nil
}

func (c *EtsyClient) ApplyUpdate(ctx context.Context, listingID int64, payload UpdatePayload) error {
	if payload.Empty() {
		return fmt.Errorf("update payload for listing %d is empty", listingID)
	}

	form := url.Values{}
	if payload.Title != nil {
		form.Set("title", *payload.Title)
	}
	if payload.Description != nil {
		form.Set("description", *payload.Description)
	}
	if payload.Tags != nil {
		// An empty list still sets the field: clearing every tag is a
		// legitimate revert target.
		form.Set("tags", strings.Join(*payload.Tags, ","))
	}
	if len(payload.ImageIDs) > 0 {
		ids := make([]string, 0, len(payload.ImageIDs))
		for _, id := range payload.ImageIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		form.Set("image_ids", strings.Join(ids, ","))
	}

	endpoint := fmt.Sprintf("/shops/%d/listings/%d", c.shopID, listingID)
	body, err := c.send(ctx, http.MethodPatch, endpoint, form)
	if err != nil {
		return fmt.Errorf("failed to update listing %d: %w", listingID, err)
	}
	body.Close()
	slog.Info("applied listing update", "listing_id", listingID)
	return nil
}

// --- transport ---

func (c *EtsyClient) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	target := etsyAPIBase + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	body, err := c.doWithRefresh(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req, token)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *EtsyClient) send(ctx context.Context, method, endpoint string, form url.Values) (io.ReadCloser, error) {
	target := etsyAPIBase + endpoint
	return c.doWithRefresh(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		c.setHeaders(req, token)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// doWithRefresh issues the request and, on a 401, refreshes the access
// token once and retries.
func (c *EtsyClient) doWithRefresh(ctx context.Context, build func(token string) (*http.Request, error)) (io.ReadCloser, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	resp, err := c.do(build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		slog.Info("access token expired, refreshing")
		token, err = c.refreshAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = c.do(build, token)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("etsy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}

func (c *EtsyClient) do(build func(token string) (*http.Request, error), token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *EtsyClient) setHeaders(req *http.Request, token string) {
	req.Header.Set("x-api-key", c.keystring)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *EtsyClient) refreshAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.keystring)
	form.Set("refresh_token", c.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, etsyTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	c.accessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		c.refreshToken = payload.RefreshToken
	}
	return c.accessToken, nil
}

func toListingFields(r listingResult) *ListingFields {
	return &ListingFields{
		ListingID:   r.ListingID,
		Title:       r.Title,
		Description: r.Description,
		Tags:        r.Tags,
		Views:       r.Views,
		State:       r.State,
	}
}
