package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/certflow/certflow/bus"
	"github.com/certflow/certflow/types"
)

const (
	// eventBuffer absorbs bursts between bus delivery and the websocket
	// write loop. A full buffer drops events rather than stalling the
	// bus workers.
	eventBuffer = 64

	// eventWriteTimeout bounds a single websocket write.
	eventWriteTimeout = 10 * time.Second
)

// patternFromQuery builds a bus subscription pattern from the type, source,
// target, and priority query parameters. Absent parameters stay unset, so
// an empty query subscribes to everything.
func patternFromQuery(q url.Values) bus.Pattern {
	p := bus.Pattern{
		Type:   q.Get("type"),
		Source: q.Get("source"),
		Target: q.Get("target"),
	}
	if s := q.Get("priority"); s != "" {
		p.Priority = types.ParsePriority(s)
	}
	return p
}

// handleEvents upgrades the request to a websocket and streams bus messages
// matching the query pattern as JSON until the client disconnects.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	pattern := patternFromQuery(r.URL.Query())

	var acceptOpts *websocket.AcceptOptions
	if len(a.wsOrigins) > 0 {
		acceptOpts = &websocket.AcceptOptions{OriginPatterns: a.wsOrigins}
	}

	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		a.logger.Warn("websocket accept failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream aborted")

	a.metrics.WSClientConnected()
	defer a.metrics.WSClientDisconnected()

	// The stream is write-only; CloseRead discards client frames and
	// cancels the context when the connection dies.
	ctx := conn.CloseRead(r.Context())

	events := make(chan bus.Message, eventBuffer)
	subID := a.engine.Bus().Subscribe("ws:"+r.RemoteAddr, pattern, func(_ context.Context, msg bus.Message) error {
		select {
		case events <- msg:
		default:
			// Slow client, drop.
		}
		return nil
	})
	defer a.engine.Bus().Unsubscribe(subID)

	a.logger.Info("event stream opened",
		zap.String("subscription_id", subID),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("pattern_type", pattern.Type))

	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("event stream closed", zap.String("subscription_id", subID))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				a.logger.Debug("event stream write failed",
					zap.String("subscription_id", subID),
					zap.Error(err))
				return
			}
		}
	}
}
