package autdaosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AutDAO HTTP API client.
type Client struct {
	BaseURL     string
	DAOID       string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, daoID string) *Client {
	return &Client{
		BaseURL: baseURL,
		DAOID:   daoID,
		Timeout: 10 * time.Second,
	}
}

// Member represents the API membership model.
type Member struct {
	DAOID      string `json:"dao_id"`
	Identity   string `json:"identity"`
	Username   string `json:"username,omitempty"`
	Role       int    `json:"role"`
	Commitment int    `json:"commitment"`
	Admin      bool   `json:"admin"`
}

// Proposal represents the API proposal model.
type Proposal struct {
	DAOID       string `json:"dao_id"`
	ID          uint64 `json:"id"`
	MetadataRef string `json:"metadata_ref"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	YesWeight   uint64 `json:"yes_weight"`
	NoWeight    uint64 `json:"no_weight"`
}

// Quest represents the API quest model.
type Quest struct {
	DAOID        string `json:"dao_id"`
	ID           uint64 `json:"id"`
	MetadataRef  string `json:"metadata_ref"`
	RequiredRole int    `json:"required_role"`
	TasksCount   int    `json:"tasks_count"`
}

// TaskRef is one quest entry.
type TaskRef struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	TaskID       uint64 `json:"task_id"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	DAOID      string         `json:"dao_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// MintMembership mints a membership for the authenticated identity.
func (c *Client) MintMembership(ctx context.Context, username string, role, commitment int) (Member, error) {
	body := map[string]any{
		"username":   username,
		"role":       role,
		"commitment": commitment,
	}
	var resp Member
	err := c.do(ctx, http.MethodPost, c.daoPath("members"), body, &resp)
	return resp, err
}

// CreateProposal opens a vote over [start, end].
func (c *Client) CreateProposal(ctx context.Context, metadataRef string, start, end int64) (Proposal, error) {
	body := map[string]any{
		"metadata_ref": metadataRef,
		"start_time":   start,
		"end_time":     end,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, c.daoPath("proposals"), body, &resp)
	return resp, err
}

// Vote casts the caller's weighted ballot.
func (c *Client) Vote(ctx context.Context, proposalID uint64, support bool) (Proposal, error) {
	body := map[string]any{"support": support}
	var resp Proposal
	endpoint := c.daoPath(fmt.Sprintf("proposals/%d/votes", proposalID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ActiveProposals lists ids of proposals open right now.
func (c *Client) ActiveProposals(ctx context.Context) ([]uint64, error) {
	var resp struct {
		IDs []uint64 `json:"ids"`
	}
	err := c.do(ctx, http.MethodGet, c.daoPath("proposals/active"), nil, &resp)
	return resp.IDs, err
}

// GetProposal fetches one proposal with its running tallies.
func (c *Client) GetProposal(ctx context.Context, id uint64) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodGet, c.daoPath(fmt.Sprintf("proposals/%d", id)), nil, &resp)
	return resp, err
}

// CreateQuest creates a quest.
func (c *Client) CreateQuest(ctx context.Context, metadataRef string, requiredRole int) (Quest, error) {
	body := map[string]any{
		"metadata_ref":  metadataRef,
		"required_role": requiredRole,
	}
	var resp Quest
	err := c.do(ctx, http.MethodPost, c.daoPath("quests"), body, &resp)
	return resp, err
}

// AddQuestTasks appends task refs to a quest.
func (c *Client) AddQuestTasks(ctx context.Context, questID uint64, refs []TaskRef) (Quest, error) {
	body := map[string]any{"refs": refs}
	var resp Quest
	endpoint := c.daoPath(fmt.Sprintf("quests/%d/tasks", questID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RemoveQuestTasks removes task refs from a quest.
func (c *Client) RemoveQuestTasks(ctx context.Context, questID uint64, refs []TaskRef) (Quest, error) {
	body := map[string]any{"refs": refs}
	var resp Quest
	endpoint := c.daoPath(fmt.Sprintf("quests/%d/tasks/remove", questID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// QuestTasks lists a quest's refs in insertion order.
func (c *Client) QuestTasks(ctx context.Context, questID uint64) ([]TaskRef, error) {
	var resp []TaskRef
	endpoint := c.daoPath(fmt.Sprintf("quests/%d/tasks", questID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.daoPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) daoPath(p string) string {
	dao := url.PathEscape(c.DAOID)
	return fmt.Sprintf("v0/daos/%s/%s", dao, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
