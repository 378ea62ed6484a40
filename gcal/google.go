package gcal

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CalendarScopes requested at connect time: read events plus manage events.
var CalendarScopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

const watchTTL = 7 * 24 * time.Hour

// GoogleProvider implements Provider over the Google Calendar v3 API. It is
// stateless: a fresh calendar.Service is built from the supplied credentials
// on every call.
type GoogleProvider struct {
	config *oauth2.Config
}

// NewGoogleProvider builds a provider from injected OAuth client settings.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       CalendarScopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthCodeURL returns the consent URL for the OAuth connect flow.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *GoogleProvider) ExchangeAuthCode(ctx context.Context, code string) (*TokenSet, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", mapError(err))
	}
	return tokenSetFromOAuth(token), nil
}

func (p *GoogleProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh access token: no refresh token: %w", ErrUnauthorized)
	}
	// Expired stub token forces the TokenSource to actually refresh.
	stale := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	token, err := p.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", mapError(err))
	}
	set := tokenSetFromOAuth(token)
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

func (p *GoogleProvider) ListEventsIncremental(ctx context.Context, creds Credentials, calendarID string, q ListQuery) (*ListPage, error) {
	svc, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	page := &ListPage{}
	pageToken := ""
	for {
		call := svc.Events.List(calendarID).
			ShowDeleted(true).
			SingleEvents(true)

		if q.SyncToken != "" {
			call = call.SyncToken(q.SyncToken)
		} else {
			if !q.TimeMin.IsZero() {
				call = call.TimeMin(q.TimeMin.Format(time.RFC3339))
			}
			if !q.TimeMax.IsZero() {
				call = call.TimeMax(q.TimeMax.Format(time.RFC3339))
			}
			call = call.OrderBy("startTime")
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("list events: %w", mapError(err))
		}

		for _, item := range resp.Items {
			page.Events = append(page.Events, eventFromGoogle(item))
		}

		if resp.NextPageToken != "" {
			pageToken = resp.NextPageToken
			continue
		}
		page.NextSyncToken = resp.NextSyncToken
		return page, nil
	}
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, creds Credentials, calendarID string, event *Event) (*Event, error) {
	svc, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	created, err := svc.Events.Insert(calendarID, eventToGoogle(event)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create event: %w", mapError(err))
	}
	return eventFromGoogle(created), nil
}

func (p *GoogleProvider) UpdateEvent(ctx context.Context, creds Credentials, calendarID string, event *Event) (*Event, error) {
	if event == nil || event.ID == "" {
		return nil, fmt.Errorf("update event: missing event id")
	}
	svc, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	updated, err := svc.Events.Patch(calendarID, event.ID, eventToGoogle(event)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("update event %s: %w", event.ID, mapError(err))
	}
	return eventFromGoogle(updated), nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) error {
	svc, err := p.service(ctx, creds)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		mapped := mapError(err)
		if apiErr, ok := err.(*googleapi.Error); ok && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			// Already gone remotely; deletion is idempotent.
			return nil
		}
		return fmt.Errorf("delete event %s: %w", eventID, mapped)
	}
	return nil
}

func (p *GoogleProvider) SubscribeWebhook(ctx context.Context, creds Credentials, calendarID, callbackURL, verifyToken string) (*Channel, error) {
	svc, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	request := &calendar.Channel{
		Id:      uuid.New().String(),
		Type:    "web_hook",
		Address: callbackURL,
		Token:   verifyToken,
		// Google expects the expiration in milliseconds.
		Expiration: time.Now().Add(watchTTL).UnixMilli(),
	}
	resp, err := svc.Events.Watch(calendarID, request).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("subscribe webhook: %w", mapError(err))
	}
	return &Channel{
		ID:         resp.Id,
		ResourceID: resp.ResourceId,
		ExpiresAt:  time.UnixMilli(resp.Expiration),
	}, nil
}

func (p *GoogleProvider) UnsubscribeWebhook(ctx context.Context, creds Credentials, channelID, resourceID string) error {
	svc, err := p.service(ctx, creds)
	if err != nil {
		return err
	}
	channel := &calendar.Channel{Id: channelID, ResourceId: resourceID}
	if err := svc.Channels.Stop(channel).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unsubscribe webhook %s: %w", channelID, mapError(err))
	}
	return nil
}

// RenewWebhook stops the old channel and opens a new one. The two steps are
// not atomic: a failure in between leaves no active subscription, and the
// next renewal pass retries.
func (p *GoogleProvider) RenewWebhook(ctx context.Context, creds Credentials, calendarID, callbackURL, verifyToken, oldChannelID, oldResourceID string) (*Channel, error) {
	if oldChannelID != "" {
		if err := p.UnsubscribeWebhook(ctx, creds, oldChannelID, oldResourceID); err != nil {
			log.Printf("Renewal: stop of old channel %s failed: %v", oldChannelID, err)
		}
	}
	return p.SubscribeWebhook(ctx, creds, calendarID, callbackURL, verifyToken)
}

// AccountEmail resolves the email behind the credentials. The primary
// calendar id is the account email on Google.
func (p *GoogleProvider) AccountEmail(ctx context.Context, creds Credentials) (string, error) {
	svc, err := p.service(ctx, creds)
	if err != nil {
		return "", err
	}
	cal, err := svc.Calendars.Get("primary").Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	return cal.Id, nil
}

func (p *GoogleProvider) service(ctx context.Context, creds Credentials) (*calendar.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}
	client := p.config.Client(ctx, token)
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

func tokenSetFromOAuth(token *oauth2.Token) *TokenSet {
	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

// mapError translates provider failures into the sentinel errors the sync
// manager recovers from.
func mapError(err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case http.StatusGone:
			return fmt.Errorf("%w: %v", ErrSyncTokenExpired, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	if retrieveErr, ok := err.(*oauth2.RetrieveError); ok {
		if retrieveErr.ErrorCode == "invalid_grant" || retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	if strings.Contains(err.Error(), "invalid_grant") {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

func eventFromGoogle(item *calendar.Event) *Event {
	start, startAllDay := parseEventDateTime(item.Start)
	end, _ := parseEventDateTime(item.End)
	if end.IsZero() && !start.IsZero() {
		if startAllDay {
			end = start.Add(24 * time.Hour)
		} else {
			end = start.Add(time.Hour)
		}
	}

	attendees := make([]Attendee, 0, len(item.Attendees))
	for _, a := range item.Attendees {
		attendees = append(attendees, Attendee{
			Email:     a.Email,
			Organizer: a.Organizer,
			Self:      a.Self,
		})
	}

	return &Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		AllDay:      startAllDay,
		Status:      item.Status,
		Attendees:   attendees,
	}
}

func eventToGoogle(event *Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
	}
	if !event.Start.IsZero() {
		out.Start = &calendar.EventDateTime{DateTime: event.Start.Format(time.RFC3339)}
	}
	if !event.End.IsZero() {
		out.End = &calendar.EventDateTime{DateTime: event.End.Format(time.RFC3339)}
	}
	return out
}

func parseEventDateTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t, false
		}
		return time.Time{}, false
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
