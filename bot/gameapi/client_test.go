package gameapi

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, secret string, handler func(form url.Values) (int, string)) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := r.PostForm

		// Verify the signature the way the server would: md5 over the
		// sorted body minus the sign field, plus the secret.
		sign := form.Get("sign")
		form.Del("sign")
		sum := md5.Sum([]byte(form.Encode() + secret))
		require.Equal(t, hex.EncodeToString(sum[:]), sign, "request signature mismatch")

		status, body := handler(form)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, New(srv.URL, secret)
}

func TestFetchSuccess(t *testing.T) {
	_, c := newTestServer(t, "s3cret", func(form url.Values) (int, string) {
		assert.Equal(t, "42", form.Get("fid"))
		assert.NotEmpty(t, form.Get("time"))
		return 200, `{"code":0,"msg":"success","err_code":0,"data":{"fid":42,"nickname":"Frost","stove_lv":30,"kid":245,"avatar_image":"http://img"}}`
	})

	res := c.Fetch(context.Background(), 42)
	require.Equal(t, FetchOK, res.Outcome)
	require.NotNil(t, res.Player)
	assert.Equal(t, int64(42), res.Player.Fid)
	assert.Equal(t, "Frost", res.Player.Nickname)
	assert.Equal(t, 30, res.Player.StoveLv)
	assert.Equal(t, 245, res.Player.Kid)
}

func TestFetchRoleNotExist(t *testing.T) {
	_, c := newTestServer(t, "s", func(url.Values) (int, string) {
		return 200, `{"code":1,"msg":"ROLE NOT EXIST","err_code":40004}`
	})
	res := c.Fetch(context.Background(), 7)
	assert.Equal(t, FetchRoleNotExist, res.Outcome)
	assert.Nil(t, res.Player)
}

func TestFetchRateLimitedHTTP429(t *testing.T) {
	_, c := newTestServer(t, "s", func(url.Values) (int, string) {
		return http.StatusTooManyRequests, ``
	})
	res := c.Fetch(context.Background(), 7)
	assert.Equal(t, FetchRateLimited, res.Outcome)
}

func TestFetchRateLimitedErrCode(t *testing.T) {
	_, c := newTestServer(t, "s", func(url.Values) (int, string) {
		return 200, `{"code":1,"msg":"TOO FREQUENT","err_code":40010}`
	})
	res := c.Fetch(context.Background(), 7)
	assert.Equal(t, FetchRateLimited, res.Outcome)
}

func TestFetchUnknownErrorCode(t *testing.T) {
	_, c := newTestServer(t, "s", func(url.Values) (int, string) {
		return 200, `{"code":1,"msg":"weird","err_code":49999}`
	})
	res := c.Fetch(context.Background(), 7)
	assert.Equal(t, FetchError, res.Outcome)
	assert.Error(t, res.Err)
}

func TestFetchServerError(t *testing.T) {
	_, c := newTestServer(t, "s", func(url.Values) (int, string) {
		return 500, `oops`
	})
	res := c.Fetch(context.Background(), 7)
	assert.Equal(t, FetchError, res.Outcome)
	assert.Error(t, res.Err)
}

func TestRedeemOutcomes(t *testing.T) {
	cases := []struct {
		body string
		want RedeemOutcome
	}{
		{`{"code":0,"msg":"success","err_code":0}`, RedeemSuccess},
		{`{"code":1,"msg":"RECEIVED","err_code":40008}`, RedeemAlreadyClaimed},
		{`{"code":1,"msg":"TIME ERROR","err_code":40007}`, RedeemCodeExpired},
		{`{"code":1,"msg":"CDK NOT FOUND","err_code":40014}`, RedeemCodeNotFound},
		{`{"code":1,"msg":"ROLE NOT EXIST","err_code":40004}`, RedeemRoleNotExist},
		{`{"code":1,"msg":"TOO FREQUENT","err_code":40010}`, RedeemRateLimited},
	}
	for _, tc := range cases {
		body := tc.body
		_, c := newTestServer(t, "s", func(form url.Values) (int, string) {
			assert.Equal(t, "WINTER24", form.Get("cdk"))
			return 200, body
		})
		res := c.Redeem(context.Background(), 7, "WINTER24")
		assert.Equal(t, tc.want, res.Outcome, "body %s", tc.body)
	}
}
