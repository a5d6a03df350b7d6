package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"flujos-esign/internal/domain/entity"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    entity.RequestFilter
		wantWhere []string
		wantArgs  []interface{}
	}{
		{
			name:     "no filter uses default limit",
			filter:   entity.RequestFilter{},
			wantArgs: []interface{}{50},
		},
		{
			name:      "state and creator",
			filter:    entity.RequestFilter{State: entity.StateSent, Creator: "ana", Limit: 10},
			wantWhere: []string{"state = $1", "creator = $2", "LIMIT $3"},
			wantArgs:  []interface{}{entity.StateSent, "ana", 10},
		},
		{
			name:      "recipient with offset",
			filter:    entity.RequestFilter{Recipient: "luis", Limit: 5, Offset: 20},
			wantWhere: []string{"sr.user_login = $1", "LIMIT $2", "OFFSET $3"},
			wantArgs:  []interface{}{"luis", 5, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			assert.Contains(t, query, "ORDER BY created_at DESC")
			for _, w := range tt.wantWhere {
				assert.Contains(t, query, w)
			}
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestNullTimeRoundTrip(t *testing.T) {
	assert.Equal(t, sql.NullTime{}, nullTime(nil))
	assert.Nil(t, timePtr(sql.NullTime{}))

	now := time.Now()
	got := timePtr(nullTime(&now))
	if assert.NotNil(t, got) {
		assert.True(t, now.Equal(*got))
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLogLimit, clampLimit(0))
	assert.Equal(t, defaultLogLimit, clampLimit(5000))
	assert.Equal(t, 25, clampLimit(25))
}
