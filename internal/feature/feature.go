// Package feature provides the enrichment signals consumed by the rule
// evaluator and risk scorer: per-user behavioral profiles and sliding-window
// transaction velocity, both backed by a shared cache.
//
// Every read degrades rather than fails: a dead backend yields a default
// profile and zero velocity so a decision is always produced. Degradations
// are observable through the feature error counters.
package feature

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Cache key prefixes.
const (
	profileKeyPrefix  = "profile:"
	velocityKeyPrefix = "velocity:"
)

// Conservative defaults for users with no profile on file.
var (
	DefaultAverageAmount = decimal.RequireFromString("100.00")
)

// DefaultHomeLocation is assumed for unknown users.
const DefaultHomeLocation = "US"

// UserProfile is the cached behavioral snapshot for one user. Mutated only
// through ProfileCache.UpdateAfterTransaction; readers treat it as a value.
type UserProfile struct {
	UserID                   string          `json:"userId"`
	AverageTransactionAmount decimal.Decimal `json:"averageTransactionAmount"`
	HomeLocation             string          `json:"homeLocation"`
	TrustedDevices           []string        `json:"trustedDevices"`
	FrequentMerchants        []string        `json:"frequentMerchants"`
	TotalTransactionCount    int             `json:"totalTransactionCount"`
	PremiumCustomer          bool            `json:"premiumCustomer"`
}

// IsNewDevice reports whether deviceID is outside the trusted set.
func (p *UserProfile) IsNewDevice(deviceID string) bool {
	return !contains(p.TrustedDevices, deviceID)
}

// IsUnusualLocation reports whether location differs from the user's home
// location, case-insensitively. An absent location is never unusual.
func (p *UserProfile) IsUnusualLocation(location string) bool {
	if location == "" || p.HomeLocation == "" {
		return false
	}
	return !strings.EqualFold(p.HomeLocation, location)
}

// IsFrequentMerchant reports whether merchant is in the frequent set.
func (p *UserProfile) IsFrequentMerchant(merchant string) bool {
	return contains(p.FrequentMerchants, merchant)
}

// DefaultProfile manufactures a conservative profile for an unknown user.
func DefaultProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:                   userID,
		AverageTransactionAmount: DefaultAverageAmount,
		HomeLocation:             DefaultHomeLocation,
		TrustedDevices:           []string{},
		FrequentMerchants:        []string{},
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func appendUnique(set []string, v string) []string {
	if contains(set, v) {
		return set
	}
	return append(set, v)
}
