// Package calendar creates events on a CalDAV calendar.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/zekehq/zeke-agent/internal/httpkit"
)

// Client wraps a CalDAV connection to one calendar collection.
type Client struct {
	dav          *caldav.Client
	calendarPath string
	logger       *slog.Logger
}

// NewClient connects to a CalDAV server with basic auth.
// calendarPath is the collection path events are written into, e.g.
// "/calendars/user/household/".
func NewClient(serverURL, username, password, calendarPath string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
		username, password)

	dav, err := caldav.NewClient(httpClient, serverURL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}

	return &Client{
		dav:          dav,
		calendarPath: calendarPath,
		logger:       logger.With("component", "calendar"),
	}, nil
}

// CreateEvent writes one VEVENT. A zero duration defaults to an hour.
// Returns the object path on the server.
func (c *Client) CreateEvent(ctx context.Context, title string, start time.Time, duration time.Duration) (string, error) {
	if title == "" {
		return "", fmt.Errorf("empty event title")
	}
	if duration <= 0 {
		duration = time.Hour
	}

	uid := fmt.Sprintf("%d@zeke", time.Now().UnixNano())

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(duration))
	event.Props.SetText(ical.PropSummary, title)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//zeke//agent//EN")
	cal.Children = append(cal.Children, event.Component)

	path := c.calendarPath + uid + ".ics"
	if _, err := c.dav.PutCalendarObject(ctx, path, cal); err != nil {
		return "", fmt.Errorf("put calendar object: %w", err)
	}

	c.logger.Info("event created", "title", title, "start", start.Format(time.RFC3339), "path", path)
	return path, nil
}
