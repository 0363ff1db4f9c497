package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext_FromContext_RoundTrips(t *testing.T) {
	sec := Context{UserID: "alice", AppID: "app1", Domain: "d1"}
	ctx := WithContext(context.Background(), sec)

	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, sec, got)
}

func TestFromContext_AbsentReturnsFalse(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestUserID_ConvenienceAccessor(t *testing.T) {
	ctx := WithContext(context.Background(), Context{UserID: "alice"})
	assert.Equal(t, "alice", UserID(ctx))
	assert.Equal(t, "", UserID(context.Background()))
}
