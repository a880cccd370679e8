package models

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Assets
// =============================================================================

// Asset is an inventory item owned by the asset-management collaborator.
// The engine reads assets; it never discovers or mutates them beyond
// correlation bookkeeping.
type Asset struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	Hostname          string         `json:"hostname" db:"hostname"`
	IPAddresses       []string       `json:"ipAddresses,omitempty" db:"ip_addresses"`
	OperatingSystem   string         `json:"operatingSystem" db:"operating_system"`
	Owner             string         `json:"owner" db:"owner"`
	AssetType         *string        `json:"assetType,omitempty" db:"asset_type"`
	SensitivityWeight float64        `json:"sensitivityWeight" db:"sensitivity_weight"`
	CriticalityWeight float64        `json:"criticalityWeight" db:"criticality_weight"`
	Products          []AssetProduct `json:"products" db:"-"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time      `json:"updatedAt" db:"updated_at"`
}

// AssetProduct is one installed product on an asset. Name may be given in
// package-url form (pkg:deb/openssl@1.1.1w); the correlation engine
// normalizes either shape.
type AssetProduct struct {
	ID      uuid.UUID `json:"id" db:"id"`
	AssetID uuid.UUID `json:"assetId" db:"asset_id"`
	Name    string    `json:"name" db:"name"`
	Version string    `json:"version" db:"version"`
}

// ImportanceWeight returns the asset's contribution to risk scoring.
func (a *Asset) ImportanceWeight() float64 {
	return a.SensitivityWeight * a.CriticalityWeight
}
