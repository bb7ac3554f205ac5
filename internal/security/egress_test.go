package security

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEgressPolicyPermits(t *testing.T) {
	deny, err := NewEgressPolicy("")
	require.NoError(t, err)
	for addr, want := range map[string]bool{
		"127.0.0.1":        false,
		"10.1.2.3":         false,
		"172.16.0.9":       false,
		"192.168.1.1":      false,
		"169.254.169.254":  false,
		"100.64.0.1":       false,
		"0.0.0.0":          false,
		"::1":              false,
		"::ffff:127.0.0.1": false,
		"fd00::1":          false,
		"fe80::1":          false,
		"93.184.216.34":    true,
		"2606:4700::1111":  true,
	} {
		require.Equal(t, want, deny.Permits(netip.MustParseAddr(addr)), addr)
	}

	allow, err := NewEgressPolicy("127.0.0.0/8, 10.0.0.5")
	require.NoError(t, err)
	require.True(t, allow.Permits(netip.MustParseAddr("127.0.0.1")))
	require.True(t, allow.Permits(netip.MustParseAddr("10.0.0.5")))
	require.False(t, allow.Permits(netip.MustParseAddr("10.0.0.6")))

	_, err = NewEgressPolicy("intranet")
	require.ErrorContains(t, err, `invalid egress allow entry "intranet"`)
}

func TestEgressClientRefusesLoopback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p, err := NewEgressPolicy("")
	require.NoError(t, err)
	resp, err := p.Client().Post(srv.URL, "application/json", nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.ErrorIs(t, err, ErrEgressDenied)
	require.Zero(t, hits.Load())
}

func TestEgressClientDoesNotFollowRedirects(t *testing.T) {
	var followed atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		followed.Store(true)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewEgressPolicy("127.0.0.1")
	require.NoError(t, err)
	client := p.Client()
	defer client.CloseIdleConnections()
	resp, err := client.Get(srv.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.False(t, followed.Load())
}
