package admin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/activity"
	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const maxActivityLimit = 200

var (
	pingInterval  = 30 * time.Second
	pingWriteWait = 5 * time.Second
	writeWait     = 10 * time.Second
)

// ActivityLister reads pages of the activity log.
type ActivityLister interface {
	List(ctx context.Context, f store.ActivityFilter) (*activity.Page, error)
}

// ActivityView is an activity entry with its rendered message.
type ActivityView struct {
	*store.ActivityEntry
	Message string `json:"message"`
}

type activityListResponse struct {
	Total      int            `json:"total"`
	Activities []ActivityView `json:"activities"`
}

func viewOf(e *store.ActivityEntry) ActivityView {
	return ActivityView{ActivityEntry: e, Message: activity.FormatMessage(e)}
}

// HandleActivity lists activity filtered by userId, subscriptionId, type,
// startDate and endDate, paged by limit and offset.
func HandleActivity(logger ActivityLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := activityFilter(r)
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to fetch activity")
			return
		}
		page, err := logger.List(r.Context(), f)
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to fetch activity")
			return
		}

		resp := activityListResponse{Total: page.Total, Activities: make([]ActivityView, 0, len(page.Activities))}
		for _, e := range page.Activities {
			resp.Activities = append(resp.Activities, viewOf(e))
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func activityFilter(r *http.Request) (store.ActivityFilter, error) {
	q := r.URL.Query()
	f := store.ActivityFilter{
		UserID:         q.Get("userId"),
		SubscriptionID: q.Get("subscriptionId"),
		Type:           q.Get("type"),
	}
	if f.Type != "" && !activity.Type(f.Type).Valid() {
		return f, boerrors.Validation("list_activity", "Invalid type")
	}

	var err error
	if f.Start, err = httputil.QueryDate(r, "startDate"); err != nil {
		return f, err
	}
	if f.End, err = httputil.QueryDate(r, "endDate"); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.QueryInt(r, "limit", activity.DefaultListLimit); err != nil {
		return f, err
	}
	if f.Limit > maxActivityLimit {
		f.Limit = maxActivityLimit
	}
	if f.Offset, err = httputil.QueryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// ActivityStream pushes activity entries to admin websocket clients.
type ActivityStream struct {
	broadcaster *activity.Broadcaster
	upgrader    websocket.Upgrader
}

// NewActivityStream creates a stream handler. checkOrigin decides whether a
// browser origin may connect; nil allows only same-host requests.
func NewActivityStream(b *activity.Broadcaster, checkOrigin func(r *http.Request) bool) *ActivityStream {
	return &ActivityStream{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

type streamConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *streamConn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *streamConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pingWriteWait))
}

// ServeHTTP upgrades the connection, replays the buffered history and then
// forwards new entries until the client goes away.
func (s *ActivityStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", activity.ClientIP(r)).Msg("Activity stream upgrade failed")
		return
	}
	sc := &streamConn{conn: conn}
	defer conn.Close()

	id, entries, history := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	log.Debug().Str("subscriber", id).Int("history", len(history)).Msg("Activity stream connected")

	for _, e := range history {
		if err := sc.send(viewOf(e)); err != nil {
			log.Debug().Err(err).Str("subscriber", id).Msg("Activity stream history write failed")
			return
		}
	}

	// Reads only drain control frames; any read error ends the stream.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("subscriber", id).Msg("Activity stream read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := sc.send(viewOf(e)); err != nil {
				log.Debug().Err(err).Str("subscriber", id).Msg("Activity stream write failed")
				return
			}
		case <-ticker.C:
			if err := sc.ping(); err != nil {
				log.Debug().Err(err).Str("subscriber", id).Msg("Activity stream ping failed")
				return
			}
		}
	}
}
