package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/softphone/internal/lifecycle"
	"github.com/sebas/softphone/internal/session"
)

// handleInvite answers an offer with 100 and 180, holds the transaction
// until it is cancelled, rejected or expires, and publishes session-offered.
func (e *Engine) handleInvite(req *sip.Request, tx responder) {
	id := callID(req)
	pending := e.pendingStore()
	switch {
	case id == "":
		_ = tx.Respond(sip.NewResponseFromRequest(req, 400, "Missing Call-ID", nil))
		return
	case pending == nil:
		_ = tx.Respond(sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil))
		return
	}
	if _, dup := pending.Get(id); dup {
		slog.Debug("[SIP] INVITE retransmission", "call_id", id)
		return
	}
	if to := req.To(); to != nil && to.Params != nil {
		if _, ok := to.Params.Get("tag"); ok {
			// No dialog is ever confirmed, so in-dialog requests have nothing to match.
			_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
			return
		}
	}

	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil))

	s := sessionFromInvite(req, e.clock.Now())
	if media, err := InspectSDP(req.Body()); err != nil {
		slog.Debug("[SIP] Offer without usable SDP", "call_id", id, "error", err)
	} else {
		s.HasRemoteMedia = media.Audio || media.Video
		s.Video = media.Video
		if media.RemoteAddr != "" {
			s.Metadata["remote_media"] = fmt.Sprintf("%s:%d", media.RemoteAddr, media.AudioPort)
		}
	}

	p := &pendingInvite{req: req, tx: tx, toTag: newTag(), session: s}
	if err := tx.Respond(p.response(180, "Ringing")); err != nil {
		slog.Warn("[SIP] Failed to send 180 Ringing", "call_id", id, "error", err)
	}
	pending.Set(id, p, e.inviteTimeout())

	slog.Info("[SIP] Incoming call", "call_id", id, "from", s.RemoteURI, "video", s.Video)
	e.publish(e.b.SessionOffered(s))
}

func (e *Engine) inviteTimeout() time.Duration {
	if e.cfg.SIP.InviteTimeout > 0 {
		return e.cfg.SIP.InviteTimeout
	}
	return 2 * time.Minute
}

// handleCancel confirms the CANCEL and terminates the offer with 487.
func (e *Engine) handleCancel(req *sip.Request, tx responder) {
	id := callID(req)
	p, ok := e.take(id)
	if !ok {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		slog.Error("[SIP] Failed to respond to CANCEL", "call_id", id, "error", err)
	}
	_ = p.tx.Respond(p.response(487, "Request Terminated"))

	slog.Info("[SIP] Call cancelled by caller", "call_id", id)
	e.publish(e.b.SessionTerminated(id, session.CauseCancelled, 487))
}

// handleBye ends an offer the remote side gave up on. Without confirmed
// dialogs anything else is unknown.
func (e *Engine) handleBye(req *sip.Request, tx responder) {
	id := callID(req)
	if _, ok := e.take(id); !ok {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	slog.Info("[SIP] BYE received", "call_id", id)
	e.publish(e.b.SessionTerminated(id, session.CauseRemoteHangup, 0))
}

// handleOptions answers keepalive probes from the registrar.
func (e *Engine) handleOptions(req *sip.Request, tx responder) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS"))
	_ = tx.Respond(res)
}

// Reject declines an offered session with 486 Busy Here. The caller records
// the outcome; no termination event is published.
func (e *Engine) Reject(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := e.take(id)
	if !ok {
		return fmt.Errorf("reject %s: %w", id, lifecycle.ErrUnknownSession)
	}
	if err := p.tx.Respond(p.response(486, "Busy Here")); err != nil {
		return fmt.Errorf("reject %s: %w", id, err)
	}
	slog.Info("[SIP] Call rejected", "call_id", id)
	return nil
}

// expireInvite runs when an offer was neither answered nor cancelled in time.
func (e *Engine) expireInvite(id string, p *pendingInvite) {
	_ = p.tx.Respond(p.response(480, "Temporarily Unavailable"))
	slog.Info("[SIP] Call not answered", "call_id", id)
	e.publish(e.b.SessionTerminated(id, session.CauseNoAnswer, 480))
}

func (e *Engine) take(id string) (*pendingInvite, bool) {
	pending := e.pendingStore()
	if pending == nil || id == "" {
		return nil, false
	}
	return pending.Take(id)
}

// sessionFromInvite describes an inbound offer as a ringing session keyed by
// the Call-ID.
func sessionFromInvite(req *sip.Request, now time.Time) session.Session {
	s := session.Session{
		ID:        callID(req),
		Direction: session.DirectionInbound,
		State:     session.StateRinging,
		StartTime: now,
		Metadata:  map[string]string{},
	}
	if to := req.To(); to != nil {
		s.LocalURI = to.Address.String()
	}
	if from := req.From(); from != nil {
		s.RemoteURI = from.Address.String()
		s.RemoteDisplayName = from.DisplayName
	}
	if ua := req.GetHeader("User-Agent"); ua != nil {
		s.Metadata["user_agent"] = ua.Value()
	}
	if src := req.Source(); src != "" {
		s.Metadata["source"] = src
	}
	return s
}
