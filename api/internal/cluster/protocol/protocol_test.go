package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	raw, err := json.Marshal(NewAuth("s1", "Slave One", "secret"))
	require.NoError(t, err)

	typ, err := PeekType(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, typ)
}

func TestPeekType_Malformed(t *testing.T) {
	_, err := PeekType([]byte("not json"))
	assert.Error(t, err)
}

func TestIsHopByHop(t *testing.T) {
	cases := map[string]bool{
		"Connection":          true,
		"keep-alive":          true,
		"Proxy-Authenticate":  true,
		"proxy-authorization": true,
		"TE":                  true,
		"Trailers":            true,
		"Transfer-Encoding":   true,
		"Upgrade":             true,
		"Content-Type":        false,
		"X-Target-Slave":      false,
	}
	for header, want := range cases {
		assert.Equal(t, want, IsHopByHop(header), "header %q", header)
	}
}

func TestHTTPRequestRoundTrip(t *testing.T) {
	body := "hello"
	msg := NewHTTPRequest("req-1", "GET", "/api/projects?x=1", map[string][]string{"Accept": {"application/json"}}, &body)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	typ, err := PeekType(raw)
	require.NoError(t, err)
	require.Equal(t, TypeHTTPRequest, typ)

	var decoded HTTPRequest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, msg.RequestID, decoded.RequestID)
	assert.Equal(t, msg.Path, decoded.Path)
	require.NotNil(t, decoded.Body)
	assert.Equal(t, body, *decoded.Body)
}

func TestResponseError_OmitsBodyFields(t *testing.T) {
	resp := NewResponseError("req-2", "slave disconnected")
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "slave disconnected", m["error"])
	_, hasStatus := m["status"]
	assert.False(t, hasStatus, "zero status should be omitted")
}
