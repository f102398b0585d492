package preferences_test

import (
	"context"
	"testing"

	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/infra/preferences"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	s := preferences.NewMemoryStore()
	ctx := context.Background()

	p, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	s.Set(notification.Preferences{UserID: "user-1", EmailEnabled: true})

	p, err = s.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Allows(notification.ChannelEmail))
	assert.False(t, p.Allows(notification.ChannelSMS))

	p.SMSEnabled = true
	again, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, again.SMSEnabled)
}
