package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/softphone/internal/lifecycle"
)

// Register binds the AOR for the configured expiry. The outcome is
// published as registered or registration-failed; a failure is also
// returned as a *lifecycle.RegistrationError.
func (e *Engine) Register(ctx context.Context) error {
	aor := e.cfg.SIP.AOR
	e.publish(e.b.Registering(aor))

	res, err := e.sendRegister(ctx, e.cfg.SIP.RegisterExpiry)
	if err != nil {
		slog.Warn("[SIP] REGISTER failed", "aor", aor, "error", err)
		e.publish(e.b.RegistrationFailed(err.Error(), 0))
		return &lifecycle.RegistrationError{Cause: err.Error()}
	}

	code := int(res.StatusCode)
	if code < 200 || code >= 300 {
		slog.Warn("[SIP] REGISTER rejected", "aor", aor, "status", code, "reason", res.Reason)
		e.publish(e.b.RegistrationFailed(res.Reason, code))
		return &lifecycle.RegistrationError{Cause: res.Reason, StatusCode: code}
	}

	expires := grantedExpiry(res, e.cfg.SIP.RegisterExpiry)
	slog.Info("[SIP] Registered", "aor", aor, "expires", expires)
	e.publish(e.b.Registered(aor, expires))
	return nil
}

// Unregister removes the binding with Expires: 0.
func (e *Engine) Unregister(ctx context.Context) error {
	res, err := e.sendRegister(ctx, 0)
	if err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	if code := int(res.StatusCode); code < 200 || code >= 300 {
		return fmt.Errorf("unregister: %d %s", code, res.Reason)
	}
	slog.Info("[SIP] Unregistered", "aor", e.cfg.SIP.AOR)
	e.publish(e.b.Unregistered(e.cfg.SIP.AOR))
	return nil
}

// sendRegister runs one REGISTER transaction, answering a digest challenge
// once when a password is configured.
func (e *Engine) sendRegister(ctx context.Context, expiry int) (*sip.Response, error) {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	client, err := e.currentClient()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	contact := e.contact
	e.mu.Unlock()

	req := buildRegister(registerParams{
		Registrar:   e.registrar,
		AOR:         e.aor,
		DisplayName: e.cfg.SIP.DisplayName,
		Contact:     contact,
		CallID:      e.callID,
		FromTag:     e.fromTag,
		CSeq:        e.cseq,
		Expiry:      expiry,
		UserAgent:   e.cfg.SIP.UserAgent,
		Transport:   e.cfg.SIP.Transport,
	})

	// The client bumps CSeq in place on every send, the digest retry included.
	res, err := client.Do(ctx, req)
	e.syncCSeq(req)
	if err != nil {
		return nil, err
	}

	if (res.StatusCode != sip.StatusUnauthorized && res.StatusCode != sip.StatusProxyAuthRequired) || e.cfg.SIP.Password == "" {
		return res, nil
	}

	slog.Debug("[SIP] REGISTER challenged", "status", int(res.StatusCode))
	tx, err := client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
		Username: e.authUser(),
		Password: e.cfg.SIP.Password,
	})
	e.syncCSeq(req)
	if err != nil {
		return nil, fmt.Errorf("digest auth: %w", err)
	}
	res, err = finalResponse(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("digest auth: %w", err)
	}
	return res, nil
}

func (e *Engine) syncCSeq(req *sip.Request) {
	if cseq := req.CSeq(); cseq != nil {
		e.cseq = cseq.SeqNo
	}
}

// finalResponse waits for the first final response on tx and terminates it.
func finalResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	defer tx.Terminate()
	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, tx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) authUser() string {
	if e.cfg.SIP.Username != "" {
		return e.cfg.SIP.Username
	}
	return e.aor.User
}

type registerParams struct {
	Registrar   sip.Uri
	AOR         sip.Uri
	DisplayName string
	Contact     sip.Uri
	CallID      string
	FromTag     string
	CSeq        uint32
	Expiry      int
	UserAgent   string
	Transport   string
}

// buildRegister constructs a REGISTER. Call-ID and From tag stay the same
// across refreshes; CSeq increases.
func buildRegister(p registerParams) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, p.Registrar)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", p.FromTag)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: p.DisplayName,
		Address:     p.AOR,
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		DisplayName: p.DisplayName,
		Address:     p.AOR,
		Params:      sip.NewParams(),
	})

	callID := sip.CallIDHeader(p.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: p.CSeq, MethodName: sip.REGISTER})

	if p.Contact.Host != "" {
		req.AppendHeader(&sip.ContactHeader{Address: p.Contact})
	}
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(p.Expiry)))
	if p.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", p.UserAgent))
	}
	if p.Transport != "" {
		req.SetTransport(strings.ToUpper(p.Transport))
	}
	return req
}

// grantedExpiry reads the registrar's granted lifetime: the Contact expires
// parameter first, then the Expires header, else the requested value.
func grantedExpiry(res *sip.Response, requested int) int {
	for _, h := range res.GetHeaders("Contact") {
		if v, ok := paramInt(h.Value(), "expires"); ok {
			return v
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && v >= 0 {
			return v
		}
	}
	return requested
}

// paramInt finds ;name=N in a header value, outside the angle-bracketed URI.
func paramInt(value, name string) (int, bool) {
	if i := strings.LastIndex(value, ">"); i >= 0 {
		value = value[i+1:]
	}
	for _, part := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(k, name) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
