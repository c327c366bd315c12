package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

// Long-lived Meta user tokens last about 60 days; used when the exchange
// response omits expires_in.
const defaultLongLivedTTL = 60 * 24 * time.Hour

const maxResponseBody = 1 << 20

// InstagramService is a stateless client for the Graph API publish protocol.
// Every call carries the access token it is given; refreshing tokens is the
// credential service's job.
type InstagramService interface {
	CreateContainer(ctx context.Context, accessToken, igUserID string, kind models.MediaKind, mediaURL, caption string) (string, error)
	Publish(ctx context.Context, accessToken, igUserID, containerID string) (string, error)
	CheckStatus(ctx context.Context, accessToken, containerID string) (*transfer.ContainerStatus, error)
	ExchangeLongLivedToken(ctx context.Context, accessToken string) (*transfer.InstagramToken, error)
	GetUserInfo(ctx context.Context, accessToken string) (*transfer.InstagramUserInfo, error)
}

type instagramService struct {
	baseURL   string
	appID     string
	appSecret string
	client    *http.Client
}

func NewInstagramService(cfg config.Config, client *http.Client) InstagramService {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &instagramService{
		baseURL:   strings.TrimRight(cfg.GraphAPIBaseURL, "/"),
		appID:     cfg.MetaAppID,
		appSecret: cfg.MetaAppSecret,
		client:    client,
	}
}

func (ig *instagramService) CreateContainer(ctx context.Context, accessToken, igUserID string, kind models.MediaKind, mediaURL, caption string) (string, error) {
	payload := map[string]interface{}{
		"caption":      caption,
		"access_token": accessToken,
	}
	switch kind {
	case models.MediaKindImage:
		payload["image_url"] = mediaURL
	case models.MediaKindVideo:
		payload["media_type"] = "VIDEO"
		payload["video_url"] = mediaURL
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, kind)
	}

	var result transfer.InstagramIDResponse
	if err := ig.do(ctx, "create container", http.MethodPost, igUserID+"/media", nil, payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{Op: "create container", StatusCode: http.StatusOK, Payload: "no container id returned"}
	}
	return result.ID, nil
}

func (ig *instagramService) Publish(ctx context.Context, accessToken, igUserID, containerID string) (string, error) {
	payload := map[string]interface{}{
		"creation_id":  containerID,
		"access_token": accessToken,
	}

	var result transfer.InstagramIDResponse
	if err := ig.do(ctx, "publish", http.MethodPost, igUserID+"/media_publish", nil, payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{Op: "publish", StatusCode: http.StatusOK, Payload: "no media id returned"}
	}
	return result.ID, nil
}

func (ig *instagramService) CheckStatus(ctx context.Context, accessToken, containerID string) (*transfer.ContainerStatus, error) {
	query := url.Values{}
	query.Set("fields", "status_code,status")
	query.Set("access_token", accessToken)

	var status transfer.ContainerStatus
	if err := ig.do(ctx, "check status", http.MethodGet, containerID, query, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ExchangeLongLivedToken trades a token for a long-lived one. It also extends
// an existing long-lived token that has not expired yet.
func (ig *instagramService) ExchangeLongLivedToken(ctx context.Context, accessToken string) (*transfer.InstagramToken, error) {
	query := url.Values{}
	query.Set("grant_type", "fb_exchange_token")
	query.Set("client_id", ig.appID)
	query.Set("client_secret", ig.appSecret)
	query.Set("fb_exchange_token", accessToken)

	var token transfer.InstagramToken
	if err := ig.do(ctx, "exchange token", http.MethodGet, "oauth/access_token", query, nil, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, &PlatformError{Op: "exchange token", StatusCode: http.StatusOK, Payload: "no access token returned"}
	}

	if token.ExpiresIn > 0 {
		token.ExpiresAt = GetExpiresAt(int(token.ExpiresIn))
	} else {
		token.ExpiresAt = time.Now().Add(defaultLongLivedTTL)
	}
	return &token, nil
}

func (ig *instagramService) GetUserInfo(ctx context.Context, accessToken string) (*transfer.InstagramUserInfo, error) {
	query := url.Values{}
	query.Set("fields", "id,name")
	query.Set("access_token", accessToken)

	var userInfo transfer.InstagramUserInfo
	if err := ig.do(ctx, "get user info", http.MethodGet, "me", query, nil, &userInfo); err != nil {
		return nil, err
	}
	if userInfo.UserID == "" {
		return nil, &PlatformError{Op: "get user info", StatusCode: http.StatusOK, Payload: "no user id returned"}
	}
	return &userInfo, nil
}

func (ig *instagramService) do(ctx context.Context, op, method, endpoint string, query url.Values, payload map[string]interface{}, out any) error {
	reqURL := ig.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ig.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		perr := &PlatformError{Op: op, StatusCode: resp.StatusCode, Payload: string(respBody)}
		var detail transfer.InstagramErrorResponse
		if json.Unmarshal(respBody, &detail) == nil && detail.Error.Message != "" {
			perr.Detail = &detail
		}
		slog.Info(perr.Error())
		return perr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &PlatformError{Op: op, StatusCode: resp.StatusCode, Payload: string(respBody)}
	}
	return nil
}

// IsPlatformError reports whether err came back from the Graph API rather
// than from the transport.
func IsPlatformError(err error) bool {
	var perr *PlatformError
	return errors.As(err, &perr)
}
