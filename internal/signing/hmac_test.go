package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"message","data":{"body":"hi"}}`)

	sig := Sign("whsec_test", payload)
	assert.True(t, len(sig) > 3)
	assert.Equal(t, "v1=", sig[:3])

	assert.True(t, Verify("whsec_test", payload, sig))
	assert.False(t, Verify("whsec_other", payload, sig))
	assert.False(t, Verify("whsec_test", []byte(`{"tampered":true}`), sig))
}

func TestSignIsDeterministic(t *testing.T) {
	payload := []byte(`{"ping":true}`)
	assert.Equal(t, Sign("s", payload), Sign("s", payload))
}
