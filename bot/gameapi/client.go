package gameapi

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the game HTTP API. Requests are signed form posts; the
// server throttles aggressively, so callers pace themselves through the
// scheduler's shared budget rather than here.
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
}

// New builds a client with pooled transport and sensible timeouts.
func New(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				IdleConnTimeout:       30 * time.Second,
				MaxIdleConns:          100,
				MaxConnsPerHost:       10,
			},
		},
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	ErrCode int             `json:"err_code"`
	Data    json.RawMessage `json:"data"`
}

type playerData struct {
	Fid         int64  `json:"fid"`
	Nickname    string `json:"nickname"`
	StoveLv     int    `json:"stove_lv"`
	Kid         int    `json:"kid"`
	AvatarImage string `json:"avatar_image"`
}

// Remote error codes observed from the API.
const (
	codeRoleNotExist   = 40004
	codeTimeError      = 40007
	codeAlreadyClaimed = 40008
	codeRateLimited    = 40010
	codeCdkNotFound    = 40014
)

// sign produces the request signature: md5 of the sorted form body plus
// the shared secret.
func (c *Client) sign(form url.Values) string {
	// url.Values.Encode sorts by key, which is the order the server hashes.
	sum := md5.Sum([]byte(form.Encode() + c.secret))
	return hex.EncodeToString(sum[:])
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (*apiEnvelope, int, error) {
	form.Set("time", strconv.FormatInt(time.Now().UnixMilli(), 10))
	form.Set("sign", c.sign(form))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("api %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("api %s: decode: %w", path, err)
	}
	return &env, resp.StatusCode, nil
}

// Fetch loads one player's current state.
func (c *Client) Fetch(ctx context.Context, fid int64) FetchResult {
	form := url.Values{}
	form.Set("fid", strconv.FormatInt(fid, 10))

	env, status, err := c.post(ctx, "/player", form)
	if err != nil {
		return FetchResult{Outcome: FetchError, Err: err}
	}
	if status == http.StatusTooManyRequests {
		return FetchResult{Outcome: FetchRateLimited}
	}
	switch {
	case env.Code == 0 && env.Msg == "success":
		var d playerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return FetchResult{Outcome: FetchError, Err: fmt.Errorf("player data: %w", err)}
		}
		return FetchResult{Outcome: FetchOK, Player: &PlayerSnapshot{
			Fid:         d.Fid,
			Nickname:    d.Nickname,
			StoveLv:     d.StoveLv,
			Kid:         d.Kid,
			AvatarImage: d.AvatarImage,
		}}
	case env.ErrCode == codeRoleNotExist:
		return FetchResult{Outcome: FetchRoleNotExist}
	case env.ErrCode == codeRateLimited:
		return FetchResult{Outcome: FetchRateLimited}
	default:
		return FetchResult{Outcome: FetchError, Err: fmt.Errorf("api /player: code %d err_code %d: %s", env.Code, env.ErrCode, env.Msg)}
	}
}

// Redeem claims a gift code on behalf of fid. The caller must have fetched
// the player recently; the server requires a live session for the fid.
func (c *Client) Redeem(ctx context.Context, fid int64, code string) RedeemResult {
	form := url.Values{}
	form.Set("fid", strconv.FormatInt(fid, 10))
	form.Set("cdk", code)

	env, status, err := c.post(ctx, "/gift_code", form)
	if err != nil {
		return RedeemResult{Outcome: RedeemError, Err: err}
	}
	if status == http.StatusTooManyRequests {
		return RedeemResult{Outcome: RedeemRateLimited}
	}
	switch {
	case env.Code == 0 && env.Msg == "success":
		return RedeemResult{Outcome: RedeemSuccess}
	case env.ErrCode == codeAlreadyClaimed:
		return RedeemResult{Outcome: RedeemAlreadyClaimed}
	case env.ErrCode == codeTimeError:
		return RedeemResult{Outcome: RedeemCodeExpired}
	case env.ErrCode == codeCdkNotFound:
		return RedeemResult{Outcome: RedeemCodeNotFound}
	case env.ErrCode == codeRoleNotExist:
		return RedeemResult{Outcome: RedeemRoleNotExist}
	case env.ErrCode == codeRateLimited:
		return RedeemResult{Outcome: RedeemRateLimited}
	default:
		return RedeemResult{Outcome: RedeemError, Err: fmt.Errorf("api /gift_code: code %d err_code %d: %s", env.Code, env.ErrCode, env.Msg)}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
