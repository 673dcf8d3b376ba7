package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tracksync/worklog"
)

const (
	// PageLimit is the largest page Redmine serves.
	PageLimit = 100

	switchUserHeader = "X-Redmine-Switch-User"
	apiKeyHeader     = "X-Redmine-API-Key"
	usersCacheKey    = "users"
)

var ErrUserNotFound = errors.New("user not found in redmine")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ClientConfig struct {
	BaseURL  string
	APIToken string
	// ActivityID is sent with every write when set; Redmine needs it unless a default activity exists.
	ActivityID int64
	// Users caches the user list across clients of one run. Optional.
	Users      *cache.Cache
	HTTPClient httpDoer
	Logger     *zerolog.Logger
}

type HTTPClient struct {
	baseURL     string
	apiToken    string
	activityID  int64
	impersonate string
	users       *cache.Cache
	httpClient  httpDoer
	logger      zerolog.Logger
}

// NewUserCache returns a cache suitable for ClientConfig.Users.
func NewUserCache() *cache.Cache {
	return cache.New(10*time.Minute, 20*time.Minute)
}

func NewClient(cfg ClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("redmine base URL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	parsedBase, err := url.Parse(baseURL)
	if err != nil || parsedBase.Scheme == "" || parsedBase.Host == "" {
		return nil, fmt.Errorf("invalid redmine base URL %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("redmine api token is required")
	}

	users := cfg.Users
	if users == nil {
		users = NewUserCache()
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPClient{
		baseURL:    baseURL,
		apiToken:   strings.TrimSpace(cfg.APIToken),
		activityID: cfg.ActivityID,
		users:      users,
		httpClient: doer,
		logger:     logger,
	}, nil
}

// Impersonate returns a client acting as login. The receiver is unchanged.
func (c *HTTPClient) Impersonate(login string) *HTTPClient {
	clone := *c
	clone.impersonate = strings.TrimSpace(login)
	clone.logger = c.logger.With().Str("redmine_user", clone.impersonate).Logger()
	return &clone
}

type reference struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Mail      string `json:"mail"`
}

type Issue struct {
	ID      int64     `json:"id"`
	Project reference `json:"project"`
	Subject string    `json:"subject"`
}

type TimeEntry struct {
	ID       int64           `json:"id"`
	Project  reference       `json:"project"`
	Issue    *reference      `json:"issue,omitempty"`
	User     reference       `json:"user"`
	Hours    decimal.Decimal `json:"hours"`
	Comments string          `json:"comments"`
	SpentOn  string          `json:"spent_on"`
}

func (e TimeEntry) ToTargetEntry() worklog.TargetEntry {
	entry := worklog.TargetEntry{
		ID:        e.ID,
		ProjectID: e.Project.ID,
		UserID:    e.User.ID,
		Hours:     e.Hours,
		Comment:   e.Comments,
		SpentOn:   e.SpentOn,
	}
	if e.Issue != nil {
		entry.IssueID = e.Issue.ID
	}
	return entry
}

type page struct {
	TotalCount int `json:"total_count"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
}

type usersPage struct {
	page
	Users []User `json:"users"`
}

type issuesPage struct {
	page
	Issues []Issue `json:"issues"`
}

type timeEntriesPage struct {
	page
	TimeEntries []TimeEntry `json:"time_entries"`
}

type timeEntryBody struct {
	IssueID    int64   `json:"issue_id"`
	ProjectID  int64   `json:"project_id"`
	SpentOn    string  `json:"spent_on"`
	Hours      float64 `json:"hours"`
	ActivityID int64   `json:"activity_id,omitempty"`
	Comments   string  `json:"comments"`
}

type timeEntryEnvelope struct {
	TimeEntry timeEntryBody `json:"time_entry"`
}

// ListUsers returns all active users. It needs an admin token and never impersonates.
func (c *HTTPClient) ListUsers(ctx context.Context) ([]User, error) {
	if cached, ok := c.users.Get(c.baseURL + "|" + usersCacheKey); ok {
		return cached.([]User), nil
	}

	admin := *c
	admin.impersonate = ""
	users := make([]User, 0)
	err := admin.collect(ctx, "/users.json", url.Values{}, func(data []byte) (page, error) {
		var decoded usersPage
		if err := json.Unmarshal(data, &decoded); err != nil {
			return page{}, err
		}
		users = append(users, decoded.Users...)
		return pageOf(decoded.page, len(decoded.Users)), nil
	})
	if err != nil {
		return nil, err
	}

	c.users.Set(c.baseURL+"|"+usersCacheKey, users, cache.DefaultExpiration)
	return users, nil
}

// LookupUserID resolves a login to its Redmine user id.
func (c *HTTPClient) LookupUserID(ctx context.Context, login string) (int64, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list redmine users: %w", err)
	}
	for _, user := range users {
		if user.Login == login {
			return user.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUserNotFound, login)
}

// ListIssues returns the issues among ids visible to the client, in any status.
func (c *HTTPClient) ListIssues(ctx context.Context, ids []int64) ([]worklog.Issue, error) {
	if len(ids) == 0 {
		return []worklog.Issue{}, nil
	}

	query := url.Values{}
	query.Set("issue_id", joinIDs(ids))
	query.Set("status_id", "*")

	issues := make([]worklog.Issue, 0, len(ids))
	err := c.collect(ctx, "/issues.json", query, func(data []byte) (page, error) {
		var decoded issuesPage
		if err := json.Unmarshal(data, &decoded); err != nil {
			return page{}, err
		}
		for _, issue := range decoded.Issues {
			issues = append(issues, worklog.Issue{ID: issue.ID, ProjectID: issue.Project.ID, Subject: issue.Subject})
		}
		return pageOf(decoded.page, len(decoded.Issues)), nil
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// ListTimeEntries returns userID's time entries spent between from and to (inclusive days).
func (c *HTTPClient) ListTimeEntries(ctx context.Context, userID int64, from, to time.Time) ([]worklog.TargetEntry, error) {
	query := url.Values{}
	query.Set("user_id", strconv.FormatInt(userID, 10))
	query.Set("spent_on", "><"+from.Format(worklog.DayLayout)+"|"+to.Format(worklog.DayLayout))

	entries := make([]worklog.TargetEntry, 0)
	err := c.collect(ctx, "/time_entries.json", query, func(data []byte) (page, error) {
		var decoded timeEntriesPage
		if err := json.Unmarshal(data, &decoded); err != nil {
			return page{}, err
		}
		for _, entry := range decoded.TimeEntries {
			entries = append(entries, entry.ToTargetEntry())
		}
		return pageOf(decoded.page, len(decoded.TimeEntries)), nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *HTTPClient) CreateTimeEntry(ctx context.Context, payload worklog.Payload) error {
	return c.doJSON(ctx, http.MethodPost, "/time_entries.json", c.envelope(payload), nil)
}

func (c *HTTPClient) UpdateTimeEntry(ctx context.Context, id int64, payload worklog.Payload) error {
	path := "/time_entries/" + strconv.FormatInt(id, 10) + ".json"
	return c.doJSON(ctx, http.MethodPut, path, c.envelope(payload), nil)
}

func (c *HTTPClient) envelope(payload worklog.Payload) timeEntryEnvelope {
	return timeEntryEnvelope{TimeEntry: timeEntryBody{
		IssueID:    payload.IssueID,
		ProjectID:  payload.ProjectID,
		SpentOn:    payload.SpentOn,
		Hours:      payload.Hours.InexactFloat64(),
		ActivityID: c.activityID,
		Comments:   payload.Comment,
	}}
}

// pageOf normalizes p so an empty page ends the walk.
func pageOf(p page, received int) page {
	switch {
	case received == 0:
		p.Limit = 0
	case p.Limit <= 0:
		p.Limit = received
	}
	return p
}

// collect walks offset/limit pages of endpointPath until total_count is reached.
func (c *HTTPClient) collect(ctx context.Context, endpointPath string, query url.Values, decode func([]byte) (page, error)) error {
	offset := 0
	for {
		query.Set("offset", strconv.Itoa(offset))
		query.Set("limit", strconv.Itoa(PageLimit))

		var raw json.RawMessage
		if err := c.doJSON(ctx, http.MethodGet, endpointPath+"?"+query.Encode(), nil, &raw); err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return fmt.Errorf("decode response GET %s: %w", endpointPath, err)
		}
		if current.Limit <= 0 {
			return nil
		}
		offset += current.Limit
		if offset >= current.TotalCount {
			return nil
		}
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpointPath string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpointPath, bodyReader)
	if err != nil {
		return fmt.Errorf("create request %s %s: %w", method, endpointPath, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiToken)
	if c.impersonate != "" {
		req.Header.Set(switchUserHeader, c.impersonate)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("path", endpointPath).Msg("redmine request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, endpointPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf(
			"request %s %s failed with status %d: %s",
			method,
			endpointPath,
			resp.StatusCode,
			strings.TrimSpace(string(responseBody)),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response %s %s: %w", method, endpointPath, err)
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
