package headhunter

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL       = "https://api.hh.ru"
	oauthURL     = "https://hh.ru"
	mineResumeID = "mine"
	userAgent    = "spigell/hh-autopilot (spigelly@gmail.com)"
	// Max value for search per page.
	perPage = 100
)

// Client talks to the hh.ru API on behalf of many users. Access tokens are passed per call.
type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	OAuthURL   string
}

func New(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		APIURL:   apiURL,
		OAuthURL: oauthURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}
