package toggl

import (
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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tracksync/worklog"
)

const (
	DefaultBaseURL  = "https://api.track.toggl.com/reports/api/v2"
	DefaultInterval = 1050 * time.Millisecond

	dayLayout = "2006-01-02"
	maxPages  = 1000
	userAgent = "tracksync"
)

var ErrPagination = errors.New("toggl report pagination did not terminate")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ClientConfig struct {
	BaseURL     string
	APIToken    string
	WorkspaceID int64
	UserID      int64
	// Limiter throttles report requests. Clients sharing one limiter share the budget.
	Limiter    *rate.Limiter
	HTTPClient httpDoer
	Logger     *zerolog.Logger
}

type HTTPClient struct {
	baseURL     string
	apiToken    string
	workspaceID int64
	userID      int64
	limiter     *rate.Limiter
	httpClient  httpDoer
	logger      zerolog.Logger
}

// NewLimiter returns the request throttle Toggl expects: one request per interval.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func NewClient(cfg ClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	parsedBase, err := url.Parse(baseURL)
	if err != nil || parsedBase.Scheme == "" || parsedBase.Host == "" {
		return nil, fmt.Errorf("invalid toggl base URL %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("toggl api token is required")
	}
	if cfg.WorkspaceID <= 0 {
		return nil, errors.New("toggl workspace id is required")
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(DefaultInterval)
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
		baseURL:     baseURL,
		apiToken:    strings.TrimSpace(cfg.APIToken),
		workspaceID: cfg.WorkspaceID,
		userID:      cfg.UserID,
		limiter:     limiter,
		httpClient:  doer,
		logger:      logger,
	}, nil
}

// TimeEntry is one row of the detailed report.
type TimeEntry struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"pid"`
	UserID      int64     `json:"uid"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Updated     time.Time `json:"updated"`
	Duration    int64     `json:"dur"`
	User        string    `json:"user"`
	Project     string    `json:"project"`
	Tags        []string  `json:"tags"`
}

func (e TimeEntry) ToSourceEntry() worklog.SourceEntry {
	return worklog.SourceEntry{
		ID:          e.ID,
		OwnerID:     e.UserID,
		Description: e.Description,
		Start:       e.Start,
		End:         e.End,
	}
}

type detailedReport struct {
	TotalCount int         `json:"total_count"`
	PerPage    int         `json:"per_page"`
	Data       []TimeEntry `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Tip     string `json:"tip"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// FetchEntries returns every time entry of the configured workspace and user
// started between from and to (inclusive days), following report pagination.
func (c *HTTPClient) FetchEntries(ctx context.Context, from, to time.Time) ([]worklog.SourceEntry, error) {
	entries := make([]worklog.SourceEntry, 0)
	seen := make(map[int64]struct{})

	for page := 1; ; page++ {
		report, err := c.fetchPage(ctx, from, to, page)
		if err != nil {
			return nil, err
		}
		for _, row := range report.Data {
			if _, ok := seen[row.ID]; ok {
				continue
			}
			// Running timers have no end yet.
			if row.End.IsZero() {
				c.logger.Debug().Int64("toggl_entry", row.ID).Msg("skipping running toggl entry")
				continue
			}
			seen[row.ID] = struct{}{}
			entries = append(entries, row.ToSourceEntry())
		}
		c.logger.Debug().Int("page", page).Int("total_count", report.TotalCount).Int("per_page", report.PerPage).Msg("acquired toggl report page")

		if report.PerPage <= 0 || len(report.Data) == 0 || page*report.PerPage >= report.TotalCount {
			break
		}
		if page >= maxPages {
			return nil, ErrPagination
		}
	}

	return entries, nil
}

func (c *HTTPClient) fetchPage(ctx context.Context, from, to time.Time, page int) (detailedReport, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return detailedReport{}, fmt.Errorf("wait for toggl rate limit: %w", err)
	}

	query := url.Values{}
	query.Set("workspace_id", strconv.FormatInt(c.workspaceID, 10))
	query.Set("since", from.Format(dayLayout))
	query.Set("until", to.Format(dayLayout))
	query.Set("page", strconv.Itoa(page))
	query.Set("user_agent", userAgent)
	if c.userID > 0 {
		query.Set("user_ids", strconv.FormatInt(c.userID, 10))
	}
	endpointPath := "/details?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpointPath, nil)
	if err != nil {
		return detailedReport{}, fmt.Errorf("create request GET /details: %w", err)
	}
	req.SetBasicAuth(c.apiToken, "api_token")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return detailedReport{}, fmt.Errorf("request GET /details failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var decoded apiError
		if json.Unmarshal(body, &decoded) == nil && decoded.Error.Message != "" {
			return detailedReport{}, fmt.Errorf(
				"failed to retrieve toggl data, code: %d, message: %q, tip: %q",
				resp.StatusCode,
				decoded.Error.Message,
				decoded.Error.Tip,
			)
		}
		return detailedReport{}, fmt.Errorf(
			"request GET /details failed with status %d: %s",
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var report detailedReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return detailedReport{}, fmt.Errorf("decode toggl report page %d: %w", page, err)
	}
	return report, nil
}
