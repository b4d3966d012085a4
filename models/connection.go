package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"gorm.io/gorm"
)

// Connection holds per-tenant credentials and refresh state for Nimbus Books.
// Tokens are supplied by the OAuth callback flow in the surrounding
// application; this service only reads and refreshes them.
type Connection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	BusinessId        string     `gorm:"uniqueIndex:idx_connection_provider,priority:1;not null" json:"business_id"`
	Provider          string     `gorm:"uniqueIndex:idx_connection_provider,priority:2;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	UpstreamOrgId     string     `gorm:"size:100" json:"upstream_org_id"`
	AccessToken       string     `gorm:"type:text" json:"-"`
	RefreshToken      string     `gorm:"type:text" json:"-"`
	TokenExpiresAt    *time.Time `json:"token_expires_at"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetConnection(ctx context.Context, businessId string) (*Connection, error) {
	var conn Connection
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, ProviderNimbus).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func GetConnectionByID(ctx context.Context, businessId string, id uint) (*Connection, error) {
	var conn Connection
	err := config.GetDB().WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// UpsertConnection creates or refreshes the tenant's connection record.
func UpsertConnection(ctx context.Context, businessId string, orgId string, accessToken string, refreshToken string, expiresAt *time.Time) (*Connection, error) {
	db := config.GetDB().WithContext(ctx)

	conn, err := GetConnection(ctx, businessId)
	if err != nil {
		return nil, err
	}

	if conn == nil {
		conn = &Connection{
			BusinessId:     businessId,
			Provider:       ProviderNimbus,
			Status:         ConnectionStatusConnected,
			UpstreamOrgId:  orgId,
			AccessToken:    accessToken,
			RefreshToken:   refreshToken,
			TokenExpiresAt: expiresAt,
		}
		if err := db.Create(conn).Error; err != nil {
			return nil, err
		}
		return conn, nil
	}

	updates := map[string]interface{}{
		"status":           ConnectionStatusConnected,
		"upstream_org_id":  orgId,
		"access_token":     accessToken,
		"refresh_token":    refreshToken,
		"token_expires_at": expiresAt,
	}
	if err := db.Model(conn).Updates(updates).Error; err != nil {
		return nil, err
	}
	return GetConnection(ctx, businessId)
}

// SaveConnectionTokens persists refreshed credentials after a 401-triggered
// or proactive token refresh.
func SaveConnectionTokens(ctx context.Context, connID uint, accessToken string, refreshToken string, expiresAt time.Time) error {
	return config.GetDB().WithContext(ctx).
		Model(&Connection{}).
		Where("id = ?", connID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		}).Error
}

func DisconnectConnection(ctx context.Context, businessId string) error {
	return config.GetDB().WithContext(ctx).
		Model(&Connection{}).
		Where("business_id = ? AND provider = ?", businessId, ProviderNimbus).
		Updates(map[string]interface{}{
			"status":        ConnectionStatusDisconnected,
			"access_token":  "",
			"refresh_token": "",
		}).Error
}

func TouchConnectionSync(ctx context.Context, connID uint, at time.Time, success bool) error {
	updates := map[string]interface{}{"last_sync_at": at}
	if success {
		updates["last_success_sync_at"] = at
	}
	return config.GetDB().WithContext(ctx).
		Model(&Connection{}).
		Where("id = ?", connID).
		Updates(updates).Error
}
