// Package gcal implements remote.Calendar on the Google Calendar v3
// events API.
package gcal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/remote"
)

const pageSize = 2500

type Client struct {
	http *remote.HTTPClient
	loc  *time.Location
}

var _ remote.Calendar = (*Client)(nil)

// New returns a calendar client. loc resolves all-day event dates.
func New(httpClient *remote.HTTPClient, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{http: httpClient, loc: loc}
}

func eventsPath(calendarID string) string {
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

// ListEvents returns every non-cancelled event overlapping the window,
// following pagination.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]remote.Event, error) {
	const op = "gcal.ListEvents"
	var (
		events    []remote.Event
		pageToken string
	)
	for {
		query := url.Values{
			"timeMin":      {timeMin.UTC().Format(time.RFC3339)},
			"timeMax":      {timeMax.UTC().Format(time.RFC3339)},
			"singleEvents": {"true"},
			"maxResults":   {strconv.Itoa(pageSize)},
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		body, err := c.http.Do(ctx, op, http.MethodGet, eventsPath(calendarID), query, nil)
		if err != nil {
			return nil, err
		}

		items := gjson.GetBytes(body, "items")
		if items.Exists() && !items.IsArray() {
			return nil, remote.SchemaError(op, "items is %s, want array", items.Type)
		}
		for i, item := range items.Array() {
			if item.Get("status").String() == "cancelled" {
				continue
			}
			ev, err := c.decode(op, item)
			if err != nil {
				return nil, remote.SchemaError(op, "item %d: %v", i, err)
			}
			events = append(events, ev)
		}

		pageToken = gjson.GetBytes(body, "nextPageToken").String()
		if pageToken == "" {
			return events, nil
		}
	}
}

func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev remote.Event) (remote.Event, error) {
	const op = "gcal.CreateEvent"
	body, err := c.http.Do(ctx, op, http.MethodPost, eventsPath(calendarID), nil, c.encode(ev))
	if err != nil {
		return remote.Event{}, err
	}
	return c.decode(op, gjson.ParseBytes(body))
}

func (c *Client) UpdateEvent(ctx context.Context, calendarID string, ev remote.Event) (remote.Event, error) {
	const op = "gcal.UpdateEvent"
	if ev.ID == "" {
		return remote.Event{}, remote.NewError(remote.KindPermanent, op, errMissingID)
	}
	body, err := c.http.Do(ctx, op, http.MethodPut, eventsPath(calendarID)+"/"+url.PathEscape(ev.ID), nil, c.encode(ev))
	if err != nil {
		return remote.Event{}, err
	}
	return c.decode(op, gjson.ParseBytes(body))
}

func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	const op = "gcal.DeleteEvent"
	if eventID == "" {
		return remote.NewError(remote.KindPermanent, op, errMissingID)
	}
	_, err := c.http.Do(ctx, op, http.MethodDelete, eventsPath(calendarID)+"/"+url.PathEscape(eventID), nil, nil)
	return err
}

type constError string

func (e constError) Error() string { return string(e) }

const errMissingID = constError("event id is required")

func (c *Client) encode(ev remote.Event) map[string]any {
	body := map[string]any{
		"summary":     ev.Summary,
		"description": ev.Description,
		"location":    ev.Location,
	}
	if ev.ID != "" {
		body["id"] = ev.ID
	}
	if ev.AllDay {
		start := ev.Start.In(c.loc)
		body["start"] = map[string]string{"date": start.Format(model.DateLayout)}
		body["end"] = map[string]string{"date": start.AddDate(0, 0, 1).Format(model.DateLayout)}
	} else {
		body["start"] = map[string]string{"dateTime": ev.Start.Format(time.RFC3339), "timeZone": c.loc.String()}
		body["end"] = map[string]string{"dateTime": ev.End.Format(time.RFC3339), "timeZone": c.loc.String()}
	}
	if len(ev.Metadata) > 0 {
		private := make(map[string]string, len(ev.Metadata))
		for k, v := range ev.Metadata {
			if v != "" {
				private[k] = v
			}
		}
		body["extendedProperties"] = map[string]any{"private": private}
	}
	return body
}

func (c *Client) decode(op string, item gjson.Result) (remote.Event, error) {
	if !item.IsObject() {
		return remote.Event{}, remote.SchemaError(op, "event is %s, want object", item.Type)
	}
	id := item.Get("id")
	if id.Type != gjson.String || id.String() == "" {
		return remote.Event{}, remote.SchemaError(op, "event has no id")
	}
	ev := remote.Event{
		ID:          id.String(),
		Summary:     item.Get("summary").String(),
		Description: item.Get("description").String(),
		Location:    item.Get("location").String(),
	}

	start, allDay, err := c.parseTime(item.Get("start"))
	if err != nil {
		return remote.Event{}, remote.SchemaError(op, "event %s start: %v", ev.ID, err)
	}
	end, _, err := c.parseTime(item.Get("end"))
	if err != nil {
		end = start
	}
	ev.Start, ev.End, ev.AllDay = start, end, allDay

	private := item.Get("extendedProperties.private")
	if private.IsObject() {
		ev.Metadata = make(map[string]string)
		private.ForEach(func(k, v gjson.Result) bool {
			ev.Metadata[k.String()] = v.String()
			return true
		})
	}
	return ev, nil
}

func (c *Client) parseTime(v gjson.Result) (time.Time, bool, error) {
	if dt := v.Get("dateTime"); dt.Exists() {
		t, err := time.Parse(time.RFC3339, dt.String())
		return t, false, err
	}
	if d := v.Get("date"); d.Exists() {
		t, err := time.ParseInLocation(model.DateLayout, d.String(), c.loc)
		return t, true, err
	}
	return time.Time{}, false, constError("missing dateTime and date")
}
