package urlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_AcceptsOrdinaryPublicURL(t *testing.T) {
	v := Validate("https://api.example.com/health")
	assert.True(t, v.OK)
}

func TestValidate_RejectsUnparseableOrWrongScheme(t *testing.T) {
	for _, raw := range []string{"not a url", "ftp://example.com", "://broken"} {
		v := Validate(raw)
		assert.False(t, v.OK, raw)
		assert.Equal(t, ReasonUnparseable, v.Reason, raw)
	}
}

func TestValidate_RejectsNumericEncodedHost(t *testing.T) {
	for _, raw := range []string{"http://2130706433/", "http://0x7f000001/", "http://017700000001/"} {
		v := Validate(raw)
		assert.False(t, v.OK, raw)
		assert.Equal(t, ReasonNumericHost, v.Reason, raw)
	}
}

func TestValidate_RejectsExactLoopbackHosts(t *testing.T) {
	for _, raw := range []string{
		"http://localhost/", "http://localhost./", "http://localhost.localdomain/",
		"http://[::1]/",
	} {
		v := Validate(raw)
		assert.False(t, v.OK, raw)
		assert.Equal(t, ReasonLoopbackHost, v.Reason, raw)
	}
}

func TestValidate_RejectsPrivateIPv4Ranges(t *testing.T) {
	cases := map[string]RejectReason{
		"http://0.0.0.1/":      ReasonAnyAddressRange,
		"http://127.0.0.1/":    ReasonLoopbackHost,
		"http://10.0.0.1/":     ReasonPrivateRange,
		"http://172.16.0.1/":   ReasonPrivateRange,
		"http://192.168.1.1/":  ReasonPrivateRange,
		"http://169.254.1.1/":  ReasonPrivateRange,
	}
	for raw, want := range cases {
		v := Validate(raw)
		assert.False(t, v.OK, raw)
		assert.Equal(t, want, v.Reason, raw)
	}
}

func TestValidate_RejectsPrivateIPv6Ranges(t *testing.T) {
	v := Validate("http://[fe80::1]/")
	assert.False(t, v.OK)
	assert.Equal(t, ReasonLinkLocalRange, v.Reason)
}

func TestValidate_RejectsIPv4MappedIPv6(t *testing.T) {
	v := Validate("http://[::ffff:127.0.0.1]/")
	assert.False(t, v.OK)
	assert.Equal(t, ReasonLoopbackHost, v.Reason)
}

// Property 7: every one-octet-off boundary IP is accepted.
func TestValidate_AcceptsBoundaryIPs(t *testing.T) {
	for _, raw := range []string{
		"http://128.0.0.0/",
		"http://169.253.0.0/",
		"http://169.255.0.0/",
		"http://172.15.0.0/",
		"http://172.32.0.0/",
	} {
		v := Validate(raw)
		assert.True(t, v.OK, raw)
	}
}

func TestClassifyRejection(t *testing.T) {
	assert.Equal(t, "ssrf_blocked", ClassifyRejection(ReasonLoopbackHost))
	assert.Equal(t, "ssrf_blocked", ClassifyRejection(ReasonPrivateRange))
	assert.Equal(t, "ssrf_blocked", ClassifyRejection(ReasonLinkLocalRange))
	assert.Equal(t, "ssrf_blocked", ClassifyRejection(ReasonAnyAddressRange))
	assert.Equal(t, "invalid_url", ClassifyRejection(ReasonUnparseable))
	assert.Equal(t, "invalid_url", ClassifyRejection(ReasonNumericHost))
}
