package service

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// MaxCaptionLength is Instagram's caption limit in characters.
const MaxCaptionLength = 2200

// ComposeCaption joins the caption and hashtags with a blank line. The
// separator is dropped when either side is empty.
func ComposeCaption(caption, hashtags string) string {
	caption = strings.TrimSpace(caption)
	hashtags = strings.TrimSpace(hashtags)
	switch {
	case hashtags == "":
		return caption
	case caption == "":
		return hashtags
	}
	return caption + "\n\n" + hashtags
}

// NormalizeMediaURL returns an absolute http(s) URL for mediaURL, joining
// relative paths onto publicBase.
func NormalizeMediaURL(publicBase, mediaURL string) (string, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return "", validationError("media url is empty")
	}

	u, err := url.Parse(mediaURL)
	if err != nil {
		return "", validationError("media url %q: %v", mediaURL, err)
	}
	if !u.IsAbs() {
		if publicBase == "" {
			return "", validationError("relative media url %q without a public base url", mediaURL)
		}
		joined := strings.TrimRight(publicBase, "/") + "/" + strings.TrimLeft(mediaURL, "/")
		if u, err = url.Parse(joined); err != nil {
			return "", validationError("media url %q: %v", joined, err)
		}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", validationError("media url %q is not publicly fetchable", u.String())
	}
	return u.String(), nil
}

// truncate returns valid UTF-8 of at most n bytes. Platform payloads are not
// guaranteed to be UTF-8 and Postgres rejects invalid text.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
