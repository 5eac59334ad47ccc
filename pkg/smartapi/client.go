// Package smartapi is a focused Angel One SmartAPI client covering what the
// scanner needs: session management (login by password + TOTP, token refresh,
// logout), FULL-mode market quotes, option greeks, and scrip search.
//
// Usage:
//
//	c := smartapi.New(smartapi.Config{APIKey: "your_api_key"})
//	sess, err := c.GenerateSession("CLIENTID", "PIN", totpCode)
//	if err != nil { log.Fatal(err) }
//	quotes, _, err := c.FullQuotes(map[string][]string{"NFO": tokens})
package smartapi

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey string

	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	Debug          bool
	UserType       string // default: USER
	SourceID       string // default: WEB
	ClientPublicIP string // resolved if empty, else fallback constant
	ClientLocalIP  string // resolved if empty, else 127.0.0.1
	ClientMAC      string // first interface MAC if empty
}

// Client talks to the Angel One SmartAPI REST endpoints. It is safe for
// use from a single goroutine; the scanner owns one client per session.
type Client struct {
	apiKey       string
	accessToken  string
	refreshToken string
	feedToken    string
	clientCode   string

	rootURL string
	debug   bool

	httpClient *http.Client

	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	// SessionExpiryHook is called when the API reports a TokenException
	// with HTTP 403, signalling that a fresh login is required.
	SessionExpiryHook func()
}

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",
	"api.market.data":  "/rest/secure/angelbroking/market/v1/quote",
	"api.search.scrip": "/rest/secure/angelbroking/order/v1/searchScrip",
	"api.optionGreek":  "/rest/secure/angelbroking/marketData/v1/optionGreek",
}

// New initializes the client. Local IP and MAC are resolved from the host
// interfaces; the public IP is resolved over HTTP once unless supplied.
// All three land in mandatory X-Client* headers on every request.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = firstNonEmpty(localIP(), "127.0.0.1")
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = firstNonEmpty(publicIP(cfg.Timeout), "106.193.147.98")
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.DisableSSL,
		},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &Client{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return ""
}

func publicIP(timeout time.Duration) string {
	c := &http.Client{Timeout: timeout}
	resp, err := c.Get("https://api.ipify.org?format=text")
	if err != nil {
		log.Printf("[smartapi] public IP lookup failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	ip, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(ip))
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Request helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", c.userType)
	h.Set("X-SourceID", c.sourceID)
	if c.accessToken != "" {
		h.Set("Authorization", "Bearer "+c.accessToken)
	}
	return h
}

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return c.rootURL + uri, nil
}

// doRequest performs one API call and decodes the standard response
// envelope. API-level failures come back two ways: an error_type field
// (TokenException etc., surfaced as an error, with the SessionExpiryHook
// fired on 403 TokenException), or status=false with a message (returned
// to the caller to interpret).
func (c *Client) doRequest(method, route string, params map[string]any) (map[string]any, []byte, int, error) {
	fullURL, err := c.buildURL(route)
	if err != nil {
		return nil, nil, 0, err
	}

	var body io.Reader
	reqURL := fullURL

	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, toString(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, _ := json.Marshal(params)
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header = c.requestHeaders()

	if c.debug {
		log.Printf("[smartapi] request: %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, resp.StatusCode, err
	}

	if c.debug {
		log.Printf("[smartapi] response: code=%d bytes=%d", resp.StatusCode, len(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, raw, resp.StatusCode, fmt.Errorf("couldn't parse JSON response: %w", err)
	}

	if et, ok := out["error_type"].(string); ok && et != "" {
		if c.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && et == "TokenException" {
			c.SessionExpiryHook()
		}
		msg, _ := out["message"].(string)
		return out, raw, resp.StatusCode, fmt.Errorf("%s: %s", et, msg)
	}
	if st, ok := out["status"].(bool); ok && !st {
		msg, _ := out["message"].(string)
		log.Printf("[smartapi] request failed: %s %s status=false message=%s", method, route, msg)
	}
	return out, raw, resp.StatusCode, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (c *Client) get(route string, params map[string]any) (map[string]any, error) {
	m, _, _, err := c.doRequest(http.MethodGet, route, params)
	return m, err
}

func (c *Client) post(route string, params map[string]any) (map[string]any, []byte, error) {
	m, raw, _, err := c.doRequest(http.MethodPost, route, params)
	return m, raw, err
}

// ---- Session ----

// UserSession holds the tokens and identity returned by a successful login.
type UserSession struct {
	ClientCode   string
	Name         string
	JWTToken     string
	RefreshToken string
	FeedToken    string
}

// ClientCode returns the logged-in client code, empty before login.
func (c *Client) ClientCode() string { return c.clientCode }

// FeedToken returns the market-feed token from the current session.
func (c *Client) FeedToken() string { return c.feedToken }

// SetTokens installs a previously obtained token pair, letting a caller
// resume a session without a fresh login.
func (c *Client) SetTokens(jwtToken, refreshToken, feedToken string) {
	c.accessToken = jwtToken
	c.refreshToken = refreshToken
	c.feedToken = feedToken
}

// GenerateSession logs in with the client code, password (PIN) and a
// current TOTP code, stores the returned tokens on the client, and
// fetches the user profile.
func (c *Client) GenerateSession(clientCode, password, totp string) (*UserSession, error) {
	params := map[string]any{"clientcode": clientCode, "password": password, "totp": totp}
	res, _, err := c.post("api.login", params)
	if err != nil {
		return nil, err
	}

	st, _ := res["status"].(bool)
	if !st {
		msg, _ := res["message"].(string)
		if msg == "" {
			msg = "login failed"
		}
		return nil, errors.New(msg)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return nil, errors.New("unexpected login response format")
	}

	sess := &UserSession{ClientCode: clientCode}
	sess.JWTToken, _ = data["jwtToken"].(string)
	sess.RefreshToken, _ = data["refreshToken"].(string)
	sess.FeedToken, _ = data["feedToken"].(string)
	if sess.JWTToken == "" || sess.FeedToken == "" {
		return nil, errors.New("login returned empty tokens")
	}

	c.SetTokens(sess.JWTToken, sess.RefreshToken, sess.FeedToken)
	c.clientCode = clientCode

	if profile, err := c.Profile(sess.RefreshToken); err == nil {
		if pdata, ok := profile["data"].(map[string]any); ok {
			sess.Name, _ = pdata["name"].(string)
			if cc, _ := pdata["clientcode"].(string); cc != "" {
				sess.ClientCode = cc
				c.clientCode = cc
			}
		}
	}
	return sess, nil
}

// TerminateSession logs the client code out, invalidating the tokens.
func (c *Client) TerminateSession() error {
	if c.clientCode == "" {
		return errors.New("no active session")
	}
	res, _, err := c.post("api.logout", map[string]any{"clientcode": c.clientCode})
	if err != nil {
		return err
	}
	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		return fmt.Errorf("logout failed: %s", msg)
	}
	c.accessToken, c.refreshToken, c.feedToken = "", "", ""
	return nil
}

// RenewTokens exchanges the refresh token for a fresh JWT + feed token
// pair and installs them on the client.
func (c *Client) RenewTokens() error {
	if c.refreshToken == "" {
		return errors.New("no refresh token held")
	}
	res, _, err := c.post("api.token", map[string]any{"refreshToken": c.refreshToken})
	if err != nil {
		return err
	}
	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		if msg == "" {
			msg = "token renewal failed"
		}
		return errors.New(msg)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return errors.New("unexpected token response format")
	}
	if jwt, _ := data["jwtToken"].(string); jwt != "" {
		c.accessToken = jwt
	}
	if rt, _ := data["refreshToken"].(string); rt != "" {
		c.refreshToken = rt
	}
	if ft, _ := data["feedToken"].(string); ft != "" {
		c.feedToken = ft
	}
	return nil
}

// Profile fetches the user profile for the given refresh token.
func (c *Client) Profile(refreshToken string) (map[string]any, error) {
	return c.get("api.user.profile", map[string]any{"refreshToken": refreshToken})
}
