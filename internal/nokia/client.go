package nokia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/nokiawifi/internal/config"
	"github.com/nugget/nokiawifi/internal/httpkit"
)

const (
	loginPath = "/login_app.cgi"
	indexPath = "/index_app.cgi"

	// loginUser is the only account the app API accepts.
	loginUser = "admin"

	loginTimeout = 10 * time.Second
	listTimeout  = 30 * time.Second

	// maxAttempts bounds device-list requests per ListDevices call. Each
	// 403 costs one attempt and one re-login.
	maxAttempts = 3
)

// errSessionExpired is the router's 403 on index_app.cgi.
var errSessionExpired = errors.New("session expired")

// Client talks to one router. It keeps the session between calls and is
// not safe for concurrent use; a poller owns exactly one Client.
type Client struct {
	host     string
	password string
	session  Session

	loginHTTP *http.Client
	listHTTP  *http.Client
	logger    *slog.Logger

	// baseURL is "https://"+host; tests may point it elsewhere.
	baseURL string
}

// NewClient creates a client for the router at host (a hostname or
// IP, optionally with port). TLS verification is disabled because
// these routers only serve self-signed certificates.
func NewClient(host, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:     host,
		password: password,
		loginHTTP: httpkit.NewClient(
			httpkit.WithTimeout(loginTimeout),
			httpkit.WithTLSInsecureSkipVerify(),
		),
		listHTTP: httpkit.NewClient(
			httpkit.WithTimeout(listTimeout),
			httpkit.WithTLSInsecureSkipVerify(),
		),
		logger:  logger,
		baseURL: "https://" + host,
	}
}

// Host returns the router host the client was built for.
func (c *Client) Host() string {
	return c.host
}

// Session returns a copy of the current token pair.
func (c *Client) Session() Session {
	return c.session
}

// Login posts the admin credentials and stores the returned tokens.
// A rejected login or an answer without both tokens fails with
// [ErrAuthFailure]; a network failure fails with [ErrUnreachable].
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"name": {loginUser},
		"pswd": {c.password},
		"srip": {""},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.loginHTTP.Do(req)
	if err != nil {
		return wrapTransport("login", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("%w: login returned status %d: %s", ErrAuthFailure, resp.StatusCode, body)
	}

	// The router labels its JSON as text/html, so the content type is
	// not checked.
	var payload struct {
		Cookie *struct {
			SID  *string `json:"sid"`
			LSID *string `json:"lsid"`
		} `json:"cookie"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if httpkit.IsTransportError(err) {
			return wrapTransport("login", err)
		}
		return fmt.Errorf("%w: decode login response: %v", ErrAuthFailure, err)
	}
	if payload.Cookie == nil || payload.Cookie.SID == nil || payload.Cookie.LSID == nil {
		return fmt.Errorf("%w: login response has no session cookie", ErrAuthFailure)
	}

	c.session = Session{SID: payload.Cookie.SID, LSID: payload.Cookie.LSID}
	c.logger.Debug("logged in to router", "host", c.host)
	return nil
}

// ListDevices returns the router's device list keyed by MAC address.
// It logs in first when there is no session. A network failure is
// returned at once; the next poll is the retry. A 403 triggers one
// re-login and another attempt; after [maxAttempts] attempts the call
// fails with [ErrAuthFailure]. Any other non-2xx status is returned as
// a [*RequestError] without retrying.
func (c *Client) ListDevices(ctx context.Context) (map[string]Device, error) {
	for attempt := 1; ; attempt++ {
		if attempt > maxAttempts {
			return nil, fmt.Errorf("%w: device list still forbidden after %d attempts", ErrAuthFailure, maxAttempts)
		}

		if !c.session.Authenticated() {
			if err := c.Login(ctx); err != nil {
				return nil, err
			}
		}

		devices, err := c.fetchDevices(ctx)
		if !errors.Is(err, errSessionExpired) {
			return devices, err
		}

		c.logger.Warn("router auth failed, logging in again",
			"host", c.host,
			"attempt", attempt,
		)
		c.session = Session{}
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
}

type deviceEntry struct {
	MACAddress    string `json:"MACAddress"`
	IPAddress     string `json:"IPAddress"`
	HostName      string `json:"HostName"`
	InterfaceType string `json:"InterfaceType"`
}

func (c *Client) fetchDevices(ctx context.Context) (map[string]Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+indexPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build device list request: %w", err)
	}
	req.Header.Set("Cookie", c.session.cookieHeader())

	resp, err := c.listHTTP.Do(req)
	if err != nil {
		return nil, wrapTransport("list devices", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusForbidden {
		return nil, errSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{
			Path:       indexPath,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	var payload struct {
		DevicesList *[]deviceEntry `json:"devices_list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if httpkit.IsTransportError(err) {
			return nil, wrapTransport("list devices", err)
		}
		return nil, fmt.Errorf("decode device list: %w", err)
	}
	if payload.DevicesList == nil {
		return nil, fmt.Errorf("decode device list: response has no devices_list")
	}

	c.logger.Log(ctx, config.LevelTrace, "device list received",
		"host", c.host,
		"entries", len(*payload.DevicesList),
		"devices", *payload.DevicesList,
	)

	devices := make(map[string]Device, len(*payload.DevicesList))
	for _, d := range *payload.DevicesList {
		devices[d.MACAddress] = Device{
			IP:          d.IPAddress,
			Name:        d.HostName,
			ConnectedTo: d.InterfaceType,
		}
	}
	return devices, nil
}

func wrapTransport(op string, err error) error {
	if httpkit.IsTransportError(err) {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
