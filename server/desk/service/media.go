package service

import (
	"context"
	"strings"
	"time"

	"desk_server/server/desk/domain"
)

const mediaLinkTTL = 15 * time.Minute

type MediaLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetMessageMedia returns a download link for a message attachment. References
// that are already absolute URLs are handed back untouched.
func (d *Desk) GetMessageMedia(ctx context.Context, tenantID, ticketID, messageID int64) (MediaLink, error) {
	m, err := d.store.GetMessage(ctx, tenantID, ticketID, messageID)
	if err != nil {
		return MediaLink{}, err
	}
	if blank(m.MediaRef) {
		return MediaLink{}, domain.NotFoundf("message %d has no media", messageID)
	}
	ref := strings.TrimSpace(*m.MediaRef)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return MediaLink{URL: ref}, nil
	}
	if d.media == nil {
		return MediaLink{}, domain.ErrUnavailable
	}
	url, err := d.media.PresignGet(ctx, strings.TrimPrefix(ref, "/"), mediaLinkTTL)
	if err != nil {
		return MediaLink{}, err
	}
	return MediaLink{URL: url, ExpiresAt: d.now().Add(mediaLinkTTL)}, nil
}
