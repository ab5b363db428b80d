package google

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"pulseboard/internal/models"
	"pulseboard/internal/provider"
)

const calendarBaseURL = "https://www.googleapis.com/calendar/v3"

// Client reads the user's primary google calendar. Read only; the dashboard
// never writes events.
type Client struct {
	baseURL string
	token   string
	caller  *provider.Caller
	now     func() time.Time
}

func NewClient(token string, caller *provider.Caller) *Client {
	return &Client{
		baseURL: calendarBaseURL,
		token:   token,
		caller:  caller,
		now:     time.Now,
	}
}

// WithBaseURL points the client at a different API root. Tests use this.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

type eventsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
		Link    string `json:"htmlLink"`
		Start   struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"end"`
	} `json:"items"`
}

// TodayEvents returns the rest of today's events from the primary calendar,
// in start order, recurring events expanded.
func (c *Client) TodayEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	now := c.now()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())

	params := url.Values{
		"timeMin":      {now.Format(time.RFC3339)},
		"timeMax":      {endOfDay.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {"25"},
	}

	var resp eventsResponse
	err := c.caller.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		u := c.baseURL + "/calendars/primary/events?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]models.CalendarEvent, 0, len(resp.Items))
	for _, it := range resp.Items {
		start := it.Start.DateTime
		if start == "" {
			start = it.Start.Date // all-day event
		}
		end := it.End.DateTime
		if end == "" {
			end = it.End.Date
		}
		out = append(out, models.CalendarEvent{
			ID:        it.ID,
			Title:     it.Summary,
			StartTime: start,
			EndTime:   end,
			Link:      it.Link,
		})
	}
	return out, nil
}
