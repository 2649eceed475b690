package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func trustProxies(t *testing.T, list string) {
	t.Helper()
	prefixes, err := httpx.ParseTrustedProxies(list)
	require.NoError(t, err)
	httpx.SetTrustedProxies(prefixes)
	t.Cleanup(func() { httpx.SetTrustedProxies(nil) })
}

func TestClientIP(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		require.Equal(t, "192.168.1.1", httpx.ClientIP(req))
	})

	t.Run("ignores forwarding headers from untrusted peers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		req.Header.Set("X-Real-IP", "203.0.113.2")
		require.Equal(t, "192.168.1.1", httpx.ClientIP(req))
	})

	t.Run("walks X-Forwarded-For behind a trusted proxy", func(t *testing.T) {
		trustProxies(t, "10.0.0.0/8, 192.168.1.1")
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "198.51.100.9, 203.0.113.1, 10.0.0.5")
		require.Equal(t, "203.0.113.1", httpx.ClientIP(req))
	})

	t.Run("uses X-Real-IP behind a trusted proxy", func(t *testing.T) {
		trustProxies(t, "192.168.1.0/24")
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Real-IP", "203.0.113.2")
		require.Equal(t, "203.0.113.2", httpx.ClientIP(req))
	})

	t.Run("falls back to the peer on garbage headers", func(t *testing.T) {
		trustProxies(t, "192.168.1.1")
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "not-an-ip")
		require.Equal(t, "192.168.1.1", httpx.ClientIP(req))
	})
}

func TestParseTrustedProxies(t *testing.T) {
	ps, err := httpx.ParseTrustedProxies(" 10.0.0.0/8 ,, 127.0.0.1, ::1")
	require.NoError(t, err)
	require.Len(t, ps, 3)
	require.Equal(t, "127.0.0.1/32", ps[1].String())

	_, err = httpx.ParseTrustedProxies("10.0.0.0/33")
	require.Error(t, err)
	_, err = httpx.ParseTrustedProxies("proxy.internal")
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"BEARER   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, ok := httpx.BearerToken(req)
		require.Equal(t, tc.ok, ok, tc.header)
		require.Equal(t, tc.want, got, tc.header)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, httpx.DecodeJSON(strings.NewReader(`{"name":"alice"}`), &dst))
	require.Equal(t, "alice", dst.Name)

	require.Error(t, httpx.DecodeJSON(strings.NewReader(`{"name":"a","extra":1}`), &dst))
	require.Error(t, httpx.DecodeJSON(strings.NewReader(`{"name":"a"}{}`), &dst))
	require.Error(t, httpx.DecodeJSON(strings.NewReader(`not json`), &dst))

	dst.Name = ""
	require.NoError(t, httpx.DecodeJSONLenient(strings.NewReader(`{"name":"bob","extra":1}`), &dst))
	require.Equal(t, "bob", dst.Name)
	require.Error(t, httpx.DecodeJSONLenient(strings.NewReader(`{"name":"a"}{}`), &dst))
	require.Error(t, httpx.DecodeJSONLenient(strings.NewReader(`not json`), &dst))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRecover(t *testing.T) {
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), httpx.Recover())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal_error")
}
