// ABOUTME: Inbound payment-provider webhook. The body is verified with the PAYSTACK_SECRET
// ABOUTME: binding before it is parsed; unsigned or mis-signed calls never reach the parser.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/payment"
)

// paymentWebhookHandler handles POST /api/v1/payments/webhook.
func (srv *Server) paymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := payment.VerifySignature(srv.env.PaymentSecret().Bytes(), body, r.Header.Get(payment.SignatureHeader)); err != nil {
		srv.metrics.reject(rejectBadSignature)
		slog.WarnContext(ctx, "payment webhook: rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	attrs := []any{"event", ev.Event}
	if ev.Event == "charge.success" {
		if c, err := ev.Charge(); err == nil {
			attrs = append(attrs, "reference", c.Reference, "amount", c.Amount, "currency", c.Currency)
		}
	}
	slog.InfoContext(ctx, "payment webhook received", attrs...)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
