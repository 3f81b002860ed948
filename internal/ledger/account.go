package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeVault
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Holder sub-types
	SubTypeSeniorToken AccountSubType = iota
	SubTypeJuniorToken

	// Vault sub-types
	SubTypeVaultCollateral
	SubTypeSeniorIssuance
	SubTypeJuniorIssuance

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance.
// sDAI and sUSDe are the two supported collateral stablecoins; SRT/JRT
// are the senior and junior risk tokens issued by the vault itself.
type AssetID uint16

const (
	AssetSDAI  AssetID = 1
	AssetSUSDE AssetID = 2
	AssetSRT   AssetID = 3
	AssetJRT   AssetID = 4
)

var (
	assetToID = map[string]AssetID{
		"sDAI":  AssetSDAI,
		"sUSDe": AssetSUSDE,
		"SRT":   AssetSRT,
		"JRT":   AssetJRT,
	}
	idToAsset = map[AssetID]string{
		AssetSDAI:  "sDAI",
		AssetSUSDE: "sUSDe",
		AssetSRT:   "SRT",
		AssetJRT:   "JRT",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// CollateralAssets returns the two supported collateral assets in settlement
// order. Proportional payouts always iterate in this order so results are
// deterministic.
func CollateralAssets() [2]AssetID {
	return [2]AssetID{AssetSDAI, AssetSUSDE}
}

// IsCollateral reports whether the asset is a depositable collateral kind
// (as opposed to a vault-issued risk token).
func IsCollateral(id AssetID) bool {
	return id == AssetSDAI || id == AssetSUSDE
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for holders, zero for vault/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewHolderAccountKey creates a key for holder token accounts
func NewHolderAccountKey(holderID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeHolder,
		EntityID: holderID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewVaultAccountKey creates a key for vault-owned accounts
func NewVaultAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeVault,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeHolder:
		hid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("holder:%s:%s:%s", hid.String(), k.subTypeName(), assetName)
	case AccountScopeVault:
		return fmt.Sprintf("vault:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSeniorToken:
		return "senior_token"
	case SubTypeJuniorToken:
		return "junior_token"
	case SubTypeVaultCollateral:
		return "collateral"
	case SubTypeSeniorIssuance:
		return "senior_issuance"
	case SubTypeJuniorIssuance:
		return "junior_issuance"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

var subTypeByName = map[string]AccountSubType{
	"senior_token":    SubTypeSeniorToken,
	"junior_token":    SubTypeJuniorToken,
	"collateral":      SubTypeVaultCollateral,
	"senior_issuance": SubTypeSeniorIssuance,
	"junior_issuance": SubTypeJuniorIssuance,
	"deposits":        SubTypeExternalDeposits,
	"withdrawals":     SubTypeExternalWithdrawals,
}

// ParseAccountPath inverts AccountPath. Used by snapshot restore and event
// replay, which read account identifiers back from Postgres as strings.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	switch parts[0] {
	case "holder":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed holder account path %q", path)
		}
		hid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: bad holder id: %w", path, err)
		}
		subType, ok := subTypeByName[parts[2]]
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[2])
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[3])
		}
		return NewHolderAccountKey(hid, subType, assetID), nil

	case "vault", "external":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		subType, ok := subTypeByName[parts[1]]
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[1])
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[2])
		}
		if parts[0] == "vault" {
			return NewVaultAccountKey(subType, assetID), nil
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("account path %q: unknown scope %q", path, parts[0])
}
