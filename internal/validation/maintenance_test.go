package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlite/credvault/pkg/schema"
)

func TestMaintenanceValidator(t *testing.T) {
	v, err := NewMaintenanceValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     *schema.MaintenanceRequest
		wantErr bool
	}{
		{"clear cache", &schema.MaintenanceRequest{Action: schema.ActionClearCache}, false},
		{"reset metrics", &schema.MaintenanceRequest{Action: schema.ActionResetMetrics}, false},
		{"force migration with tenant", &schema.MaintenanceRequest{Action: schema.ActionForceMigration, TenantID: "tenant-1"}, false},
		{"force migration without tenant", &schema.MaintenanceRequest{Action: schema.ActionForceMigration}, true},
		{"unknown action", &schema.MaintenanceRequest{Action: "reboot"}, true},
		{"empty action", &schema.MaintenanceRequest{}, true},
		{"nil request", nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.req)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
