package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"pulseboard/internal/models"
	"pulseboard/internal/provider"
)

const apiGatewayURL = "https://api.atlassian.com"

// Issue search JQL. Assigned issues come first by the original dashboard's
// ordering; unresolved falls back to the whole project view.
const (
	jqlAssigned   = `assignee = currentUser() AND resolution = Unresolved ORDER BY priority DESC, updated DESC`
	jqlUnresolved = `resolution = Unresolved ORDER BY priority DESC, updated DESC`
)

// Client talks to jira cloud through the OAuth API gateway, which addresses
// a site by its cloud id rather than its hostname.
type Client struct {
	baseURL string
	cloudID string
	siteURL string
	token   string
	caller  *provider.Caller
}

// NewClient builds a client for one connected site. siteURL is only used to
// construct human-facing browse links.
func NewClient(cloudID, siteURL, token string, caller *provider.Caller) *Client {
	return &Client{
		baseURL: apiGatewayURL,
		cloudID: cloudID,
		siteURL: siteURL,
		token:   token,
		caller:  caller,
	}
}

// WithBaseURL points the client at a different gateway root. Tests use this.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
			Priority struct {
				Name string `json:"name"`
			} `json:"priority"`
			Project struct {
				Key  string `json:"key"`
				Name string `json:"name"`
			} `json:"project"`
			Assignee *struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
			Reporter *struct {
				DisplayName string `json:"displayName"`
			} `json:"reporter"`
			DueDate string `json:"duedate"`
			Updated string `json:"updated"`
		} `json:"fields"`
	} `json:"issues"`
	Total int `json:"total"`
}

func (c *Client) search(ctx context.Context, jql string, limit int) ([]models.JiraIssue, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(limit)},
		"fields":     {"summary,status,priority,project,assignee,reporter,duedate,updated"},
	}

	var resp searchResponse
	err := c.caller.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/search?%s", c.baseURL, c.cloudID, params.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]models.JiraIssue, 0, len(resp.Issues))
	for _, is := range resp.Issues {
		issue := models.JiraIssue{
			Key:        is.Key,
			Summary:    is.Fields.Summary,
			Status:     is.Fields.Status.Name,
			Priority:   is.Fields.Priority.Name,
			Project:    is.Fields.Project.Name,
			ProjectKey: is.Fields.Project.Key,
			DueDate:    is.Fields.DueDate,
			Updated:    is.Fields.Updated,
			URL:        c.siteURL + "/browse/" + is.Key,
		}
		if is.Fields.Assignee != nil {
			issue.Assignee = is.Fields.Assignee.DisplayName
		}
		if is.Fields.Reporter != nil {
			issue.Reporter = is.Fields.Reporter.DisplayName
		}
		out = append(out, issue)
	}
	return out, nil
}

// AssignedIssues returns the caller's open issues, highest priority first.
func (c *Client) AssignedIssues(ctx context.Context, limit int) ([]models.JiraIssue, error) {
	return c.search(ctx, jqlAssigned, limit)
}

// UnresolvedIssues returns every open issue the token can see, highest
// priority first.
func (c *Client) UnresolvedIssues(ctx context.Context, limit int) ([]models.JiraIssue, error) {
	return c.search(ctx, jqlUnresolved, limit)
}
