package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mosaic-consulting/repo-analytics/internal/domain"
)

// Client is the API client for repo-analytics
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client. token may be empty when the server runs
// without authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SyncStatus describes the server's sync state.
type SyncStatus struct {
	LastSync  *domain.SyncLog   `json:"last_sync"`
	IsRunning bool              `json:"is_running"`
	History   []*domain.SyncLog `json:"history"`
}

// TriggerSync starts a sync run of the given type. repositoryID restricts the
// run to a single repository when non-zero.
func (c *Client) TriggerSync(syncType domain.SyncType, repositoryID int64) (string, error) {
	body := map[string]interface{}{
		"type": syncType,
	}
	if repositoryID != 0 {
		body["repository_id"] = repositoryID
	}

	var response struct {
		Data struct {
			SyncLogID string `json:"sync_log_id"`
		} `json:"data"`
	}
	if err := c.post("/api/v1/sync", body, &response); err != nil {
		return "", err
	}
	return response.Data.SyncLogID, nil
}

// GetSyncStatus retrieves the current sync state and recent history
func (c *Client) GetSyncStatus() (*SyncStatus, error) {
	var response struct {
		Data *SyncStatus `json:"data"`
	}
	if err := c.get("/api/v1/sync/status", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListRepositories retrieves stored repositories
func (c *Client) ListRepositories(trackedOnly bool) ([]*domain.Repository, error) {
	params := url.Values{}
	if trackedOnly {
		params.Set("tracked", "true")
	}

	var response struct {
		Data []*domain.Repository `json:"data"`
	}
	if err := c.get("/api/v1/repos", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// SetRepositoryTracked toggles whether a repository is synced
func (c *Client) SetRepositoryTracked(repositoryID int64, tracked bool) (*domain.Repository, error) {
	path := fmt.Sprintf("/api/v1/repos/%d", repositoryID)

	var response struct {
		Data *domain.Repository `json:"data"`
	}
	if err := c.patch(path, map[string]interface{}{"tracked": tracked}, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRepoDailyStats retrieves a repository's daily stat series
func (c *Client) GetRepoDailyStats(repositoryID int64, start, end time.Time) ([]*domain.DailyStat, error) {
	path := fmt.Sprintf("/api/v1/repos/%d/stats/daily", repositoryID)
	params := c.buildDateParams(start, end)

	var response struct {
		Data []*domain.DailyStat `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetOrgStats retrieves lifetime totals for an organization
func (c *Client) GetOrgStats(org string) (*domain.OrgTotals, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/stats", org)

	var response struct {
		Data *domain.OrgTotals `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetOrgRangeStats retrieves date-bounded totals for an organization
func (c *Client) GetOrgRangeStats(org string, start, end time.Time) (*domain.OrgTotals, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/stats/range", org)
	params := c.buildDateParams(start, end)

	var response struct {
		Data *domain.OrgTotals `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) buildDateParams(start, end time.Time) url.Values {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", start.Format(domain.DateLayout))
	}
	if !end.IsZero() {
		params.Set("end", end.Format(domain.DateLayout))
	}
	return params
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	return c.send(http.MethodPost, path, body, result)
}

func (c *Client) patch(path string, body interface{}, result interface{}) error {
	return c.send(http.MethodPatch, path, body, result)
}

func (c *Client) send(method, path string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
