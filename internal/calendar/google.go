package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const referenceKey = "salon_ref"

// GoogleConfig configures the Google Calendar client.
type GoogleConfig struct {
	CredentialsFile string
	// Endpoint overrides the API base URL (emulators, tests).
	Endpoint   string
	HTTPClient *http.Client
}

// GoogleMirror is a Mirror backed by the Google Calendar API.
type GoogleMirror struct {
	svc *gcal.Service
}

// NewGoogleMirror builds a Google Calendar client.
func NewGoogleMirror(ctx context.Context, cfg GoogleConfig) (*GoogleMirror, error) {
	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(gcal.CalendarEventsScope))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return &GoogleMirror{svc: svc}, nil
}

func toGoogleEvent(ev Event) *gcal.Event {
	out := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
	}
	if ev.Reference != "" {
		out.ExtendedProperties = &gcal.EventExtendedProperties{Private: map[string]string{referenceKey: ev.Reference}}
	}
	return out
}

func (g *GoogleMirror) CreateEvent(ctx context.Context, ev Event) (string, error) {
	created, err := g.svc.Events.Insert(ev.CalendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", classify("insert event", err)
	}
	return created.Id, nil
}

func (g *GoogleMirror) UpdateEvent(ctx context.Context, calendarID, eventID string, ev Event) error {
	if _, err := g.svc.Events.Patch(calendarID, eventID, toGoogleEvent(ev)).Context(ctx).Do(); err != nil {
		return classify("patch event", err)
	}
	return nil
}

// DeleteEvent removes an event. Events already gone count as deleted.
func (g *GoogleMirror) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return nil
	}
	return classify("delete event", err)
}

// classify wraps 4xx responses other than 408/429 with ErrPermanent.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return fmt.Errorf("calendar: %s: %w: %w", op, ErrPermanent, err)
		}
	}
	return fmt.Errorf("calendar: %s: %w", op, err)
}
