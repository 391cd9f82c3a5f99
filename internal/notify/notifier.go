// Package notify persists best-effort outbound notifications. Rows are an
// outbox: delivery (SMS/WhatsApp) is handled by a separate worker and is out
// of scope here. Enqueue failures are logged and never propagated, so a
// notification can never fail the operation that triggered it.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
)

const ChannelWhatsApp = "whatsapp"

// Notifier enqueues outbound notification rows
type Notifier struct {
	db       *sql.DB
	linkBase string
}

// New creates a Notifier. linkBase is the wa.me-style deep-link base URL.
func New(db *sql.DB, linkBase string) *Notifier {
	return &Notifier{db: db, linkBase: strings.TrimSuffix(linkBase, "/")}
}

// EnqueueWhatsApp inserts a whatsapp outbox row addressed to the guest's
// phone. Best effort: errors are logged and swallowed.
func (n *Notifier) EnqueueWhatsApp(ctx context.Context, toPhone, body string, metadata map[string]string) {
	linkURL := n.deepLink(toPhone, body)

	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}

	_, err = n.db.ExecContext(ctx, `
		INSERT INTO outbound_notifications (channel, to_phone, body, link_url, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, ChannelWhatsApp, toPhone, body, linkURL, meta)
	if err != nil {
		log.Printf("notify: enqueue whatsapp to %s failed: %v", maskPhone(toPhone), err)
	}
}

// deepLink builds a wa.me-style link: <base>/<digits>?text=<body>
func (n *Notifier) deepLink(toPhone, body string) string {
	digits := strings.TrimPrefix(toPhone, "+")
	return fmt.Sprintf("%s/%s?text=%s", n.linkBase, digits, url.QueryEscape(body))
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
