package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/adarelay/internal/metrics"
	"github.com/lhdbsbz/adarelay/internal/relay"
	"github.com/lhdbsbz/adarelay/internal/widget"
)

// ginSuggestions runs one suggestion per socket. The client sends a single
// suggestion.generate request; the server drives the poll loop against the
// relay service directly, pushes a suggestion.state event per transition,
// answers the request with the suggestion or an error code, then closes.
// Closing the socket early cancels the loop.
func (s *Server) ginSuggestions(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &Conn{
		ID:          fmt.Sprintf("sugg_%d", time.Now().UnixNano()),
		TicketID:    c.Query("ticketId"),
		TenantID:    c.Query("hashedId"),
		WS:          ws,
		ConnectedAt: time.Now(),
	}

	frame, err := ReadFrame(ws)
	if err != nil {
		slog.Warn("failed to read generate frame", "error", err)
		return
	}
	if frame.Type != "req" || frame.Method != MethodGenerate {
		_ = conn.Send(ResErr(frame.ID, "UNKNOWN_METHOD", "first message must be a suggestion.generate request"))
		return
	}

	var params GenerateParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			_ = conn.Send(ResErr(frame.ID, CodeInvalidParams, "invalid generate params"))
			return
		}
	}
	if params.TicketID != "" {
		conn.TicketID = params.TicketID
	}
	if params.HashedID != "" {
		conn.TenantID = params.HashedID
	}
	text := params.Text
	if text == "" {
		text = params.Conversation.Text()
	}
	if conn.TicketID == "" || text == "" {
		_ = conn.Send(ResErr(frame.ID, CodeInvalidParams, "ticketId and conversation are required"))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	s.Conns.Add(conn)
	defer s.Conns.Remove(conn.ID)
	if n := s.Conns.ForTicket(conn.TicketID); n > 1 {
		slog.Info("concurrent suggestions for ticket", "ticketId", conn.TicketID, "sockets", n)
	}

	wcfg := s.widgetConfig()
	poller := &widget.Poller{
		Relay:       serviceRelay{svc: s.Relay, tenantID: conn.TenantID},
		Interval:    wcfg.PollInterval,
		MaxAttempts: wcfg.MaxAttempts,
		OnEvent: func(e widget.Event) {
			if err := conn.Send(EventFrame(EventState, 0, StatePayload{State: e.State, Attempt: e.Attempt})); err != nil {
				slog.Debug("state push failed", "conn", conn.ID, "error", err)
			}
		},
	}
	suggestion, err := poller.Run(ctx, conn.TicketID, text)

	var res Frame
	switch {
	case err == nil:
		metrics.SuggestionsTotal.WithLabelValues(string(widget.StateResolved)).Inc()
		res = ResOK(frame.ID, SuggestionPayload{Text: suggestion})
	case ctx.Err() != nil:
		metrics.SuggestionsTotal.WithLabelValues("cancelled").Inc()
		slog.Debug("suggestion socket closed by client", "conn", conn.ID, "ticketId", conn.TicketID)
		return
	case errors.Is(err, widget.ErrTimeout):
		metrics.SuggestionsTotal.WithLabelValues(string(widget.StateTimedOut)).Inc()
		res = ResErr(frame.ID, CodeTimeout, "no suggestion received in time")
	case errors.Is(err, relay.ErrConfigNotFound):
		metrics.SuggestionsTotal.WithLabelValues(string(widget.StateFailed)).Inc()
		res = ResErr(frame.ID, CodeSetupRequired, "Configuration not found. Complete setup first.")
	default:
		metrics.SuggestionsTotal.WithLabelValues(string(widget.StateFailed)).Inc()
		slog.Error("suggestion failed", "ticketId", conn.TicketID, "hashedId", conn.TenantID, "error", err)
		res = ResErr(frame.ID, CodeError, "Failed to get suggestion")
	}

	if err := conn.Send(res); err != nil {
		slog.Debug("suggestion result push failed", "conn", conn.ID, "error", err)
		return
	}
	_ = conn.Close("done")
}

// serviceRelay lets the widget poller drive the relay service in-process.
type serviceRelay struct {
	svc      *relay.Service
	tenantID string
}

func (r serviceRelay) Send(ctx context.Context, ticketID, conversation string) (string, error) {
	return r.svc.Send(ctx, relay.SendRequest{TicketID: ticketID, Text: conversation, TenantID: r.tenantID})
}

func (r serviceRelay) Latest(ctx context.Context, ticketID, after string) (*widget.Message, error) {
	msg, err := r.svc.Latest(ctx, relay.LatestRequest{TicketID: ticketID, TenantID: r.tenantID, After: after})
	if err != nil || msg == nil {
		return nil, err
	}
	return &widget.Message{ID: msg.ID, Role: msg.Role, Text: msg.Text}, nil
}
