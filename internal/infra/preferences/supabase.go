package preferences

import (
	"context"
	"encoding/json"
	"fmt"

	"instacares-notify/internal/domain/notification"

	supa "github.com/supabase-community/supabase-go"
)

const tableName = "notification_preferences"

var _ notification.PreferenceStore = (*SupabaseStore)(nil)

// SupabaseStore reads preferences from the notification_preferences table.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a preference store on an existing Supabase client.
func NewSupabaseStore(client *supa.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

// Get returns the user's preferences, or nil, nil when none are stored.
func (s *SupabaseStore) Get(_ context.Context, userID string) (*notification.Preferences, error) {
	data, _, err := s.client.From(tableName).
		Select("user_id,email_enabled,sms_enabled", "", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching preferences: %w", err)
	}

	var rows []notification.Preferences
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing preferences: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
