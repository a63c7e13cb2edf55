package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/AceyAdapter/dopplersky-workers/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream. Likes and reposts are the engagement signals that
// feed the activity-filtered snapshot query.
var wantedCollections = []string{
	"app.bsky.feed.like",
	"app.bsky.feed.repost",
}

// Subscriber connects to the Jetstream firehose and records engagement
// events against tracked accounts.
type Subscriber struct {
	url      string
	activity *domain.ActivityService
	logger   *slog.Logger
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(
	firehoseURL string,
	activity *domain.ActivityService,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:      firehoseURL,
		activity: activity,
		logger:   logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.activity.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	lastCursorSave := time.Now()
	var latestCursor int64
	var eventsReceived, eventsRecorded int64
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			if recorded, err := s.handleCommit(ctx, event); err != nil {
				s.logger.Error("failed to handle commit", "error", err)
			} else if recorded {
				eventsRecorded++
			}
		}

		// Log stats every 30 seconds
		if time.Since(lastStatsLog) >= 30*time.Second {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"events_recorded", eventsRecorded,
			)
			lastStatsLog = time.Now()
		}

		// Periodically save cursor
		if time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.activity.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

// handleCommit records an activity event when a like or repost targets a post
// authored by a tracked account. The subject post's author is extracted from
// its AT-URI, so no extra API call is needed.
func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent) (bool, error) {
	commit := event.Commit
	if commit.Operation != "create" || commit.Record == nil {
		return false, nil
	}
	if !isEngagementCollection(commit.Collection) {
		return false, nil
	}

	authorDID := authorDIDFromURI(commit.Record.Subject.URI)
	if authorDID == "" {
		return false, nil
	}

	at := time.UnixMicro(event.TimeUS).UTC()
	return s.activity.RecordEngagement(ctx, authorDID, at)
}
