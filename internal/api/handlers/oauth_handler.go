package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/service"
	"github.com/maheshrc27/gramflow/pkg/utils"
)

const (
	metaDialogURL = "https://www.facebook.com/dialog/oauth"
	stateTTL      = 10 * time.Minute
	sessionTTL    = 24 * time.Hour
)

var metaScopes = []string{
	"instagram_basic",
	"instagram_content_publish",
	"pages_show_list",
	"business_management",
}

// OAuthHandler links an Instagram account through the Meta login dialog and
// stores its long-lived token.
type OAuthHandler struct {
	cfg    config.Config
	oauth  *oauth2.Config
	ig     service.InstagramService
	creds  service.CredentialService
	client *http.Client
}

func NewOAuthHandler(cfg config.Config, ig service.InstagramService, creds service.CredentialService, client *http.Client) *OAuthHandler {
	return &OAuthHandler{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.MetaAppID,
			ClientSecret: cfg.MetaAppSecret,
			RedirectURL:  cfg.MetaRedirectURI,
			Scopes:       metaScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   metaDialogURL,
				TokenURL:  strings.TrimRight(cfg.GraphAPIBaseURL, "/") + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		ig:     ig,
		creds:  creds,
		client: client,
	}
}

func (h *OAuthHandler) Login(c *fiber.Ctx) error {
	state, err := utils.GenerateStateToken(h.cfg.SecretKey, stateTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}
	return c.Redirect(h.oauth.AuthCodeURL(state), fiber.StatusTemporaryRedirect)
}

func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		slog.Warn("meta login denied", "error", reason, "description", c.Query("error_description"))
		return badRequest(c, "Authorization was denied")
	}

	if err := utils.ValidateStateToken(h.cfg.SecretKey, c.Query("state")); err != nil {
		return badRequest(c, "Invalid or expired state")
	}

	code := c.Query("code")
	if code == "" {
		return badRequest(c, "Missing authorization code")
	}

	ctx := c.UserContext()
	if h.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.client)
	}

	short, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return badRequest(c, "Unable to exchange authorization code")
	}

	long, err := h.ig.ExchangeLongLivedToken(ctx, short.AccessToken)
	if err != nil {
		return errorResponse(c, err)
	}

	info, err := h.ig.GetUserInfo(ctx, long.AccessToken)
	if err != nil {
		return errorResponse(c, err)
	}

	accountID, err := h.creds.SaveFromOAuth(ctx, info.UserID, long.AccessToken, long.ExpiresAt)
	if err != nil {
		return errorResponse(c, err)
	}
	slog.Info("instagram account linked", "account_id", accountID, "external_account_id", info.UserID)

	token, err := utils.GenerateToken(h.cfg.SecretKey, info.UserID, sessionTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		HTTPOnly: true,
		Secure:   strings.HasPrefix(h.cfg.FrontendURL, "https://"),
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
		Expires:  time.Now().Add(sessionTTL),
	})

	return c.Redirect(h.cfg.FrontendURL, fiber.StatusTemporaryRedirect)
}
