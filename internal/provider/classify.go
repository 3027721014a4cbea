package provider

import (
	"fmt"
	"net/http"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
)

// classifyStatus converts a provider HTTP status into the dispatch error
// taxonomy. Rate limiting and server-side failures may succeed later;
// rejected recipients and content never will.
func classifyStatus(channel string, status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.NewRetryable(apperrors.ErrRateLimited, "%s provider throttled request", channel)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewFatal(apperrors.ErrMissingCredentials, "%s provider refused credentials (status %d)", channel, status)
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return apperrors.NewFatal(
			fmt.Errorf("%w: status %d body=%q", apperrors.ErrProviderRejected, status, truncateBody(body)),
			"%s provider rejected message", channel)
	case status >= 500:
		return apperrors.NewRetryable(
			fmt.Errorf("provider status %d body=%q", status, truncateBody(body)),
			"%s provider unavailable", channel)
	default:
		// Unclassified client errors stay retriable, bounded by the caller's
		// attempt ceiling.
		return apperrors.NewRetryable(
			fmt.Errorf("unexpected provider status %d body=%q", status, truncateBody(body)),
			"%s provider returned unexpected status", channel)
	}
}

func truncateBody(body string) string {
	const max = 512
	if len(body) > max {
		return body[:max]
	}
	return body
}
