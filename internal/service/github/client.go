package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAPIURL is the REST endpoint of github.com.
const DefaultAPIURL = "https://api.github.com"

const requestTimeout = 30 * time.Second

// ErrRateLimited is returned when the API refuses a request because the
// rate limit is exhausted.
var ErrRateLimited = errors.New("github rate limit exceeded")

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github %s: %d %s", e.URL, e.StatusCode, e.Message)
}

// apiURL returns the REST endpoint for host. GitHub Enterprise serves the
// API under /api/v3.
func apiURL(host string) string {
	if host == "" || host == "github.com" {
		return DefaultAPIURL
	}
	return "https://" + strings.TrimSuffix(host, "/") + "/api/v3"
}

type client struct {
	http    *http.Client
	baseURL string
}

// newClient builds an API client. A non-empty token authenticates every
// request with a bearer token.
func newClient(baseURL, token string) *client {
	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	httpClient.Timeout = requestTimeout
	return &client{http: httpClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// listIssues walks every page of the issue listing of owner/repo, calling
// fn once per page.
func (c *client) listIssues(ctx context.Context, owner, repo string, fn func([]apiIssue) error) error {
	q := url.Values{}
	q.Set("state", "open")
	q.Set("per_page", "100")
	next := fmt.Sprintf("%s/repos/%s/%s/issues?%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo), q.Encode())

	for next != "" {
		var page []apiIssue
		link, err := c.get(ctx, next, &page)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		next = parseLinkNext(link)
	}
	return nil
}

// get fetches u into out and returns the Link header of the response.
func (c *client) get(ctx context.Context, u string, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", u, err)
	}
	return resp.Header.Get("Link"), nil
}

func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		message = payload.Message
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: message, URL: resp.Request.URL.String()}
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
		return fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
	}
	return apiErr
}

// parseLinkNext extracts the rel="next" URL of an RFC 5988 Link header.
//
// Format: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.SplitN(strings.TrimSpace(part), ";", 2)
		if len(segments) != 2 {
			continue
		}
		if !strings.Contains(segments[1], `rel="next"`) {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if strings.HasPrefix(target, "<") && strings.HasSuffix(target, ">") {
			return target[1 : len(target)-1]
		}
	}
	return ""
}
