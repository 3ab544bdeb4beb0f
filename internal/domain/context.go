package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContextType tags one evidence dimension of a check.
type ContextType string

const (
	ContextTransaction   ContextType = "Transaction"
	ContextAccountAccess ContextType = "AccountAccess"
	ContextIP            ContextType = "IP"
	ContextDevice        ContextType = "Device"
	ContextSession       ContextType = "Session"
)

// Category maps a context type to the rule category matched against it.
func (t ContextType) Category() RuleCategory {
	switch t {
	case ContextTransaction:
		return CategoryTransaction
	case ContextAccountAccess:
		return CategoryAccount
	case ContextIP:
		return CategoryIP
	case ContextDevice:
		return CategoryDevice
	case ContextSession:
		return CategorySession
	}
	return CategoryNetwork
}

// ContextSnapshot is the tagged union of the five context-specific signal
// bundles. Exactly one of the pointers matching Type is set.
type ContextSnapshot struct {
	Type          ContextType           `json:"type"`
	Transaction   *TransactionContext   `json:"transaction,omitempty"`
	AccountAccess *AccountAccessContext `json:"accountAccess,omitempty"`
	IP            *IPContext            `json:"ip,omitempty"`
	Device        *DeviceContext        `json:"device,omitempty"`
	Session       *SessionContext       `json:"session,omitempty"`

	// TestMode evaluations also match TestMode rules.
	TestMode bool `json:"testMode,omitempty"`
}

// Activation flattens the active context into CEL variables.
func (s *ContextSnapshot) Activation() map[string]any {
	switch s.Type {
	case ContextTransaction:
		if s.Transaction != nil {
			return s.Transaction.activation()
		}
	case ContextAccountAccess:
		if s.AccountAccess != nil {
			return s.AccountAccess.activation()
		}
	case ContextIP:
		if s.IP != nil {
			return s.IP.activation()
		}
	case ContextDevice:
		if s.Device != nil {
			return s.Device.activation()
		}
	case ContextSession:
		if s.Session != nil {
			return s.Session.activation()
		}
	}
	return map[string]any{}
}

// TransactionContext carries point-in-time transaction signals.
type TransactionContext struct {
	TransactionID             uuid.UUID      `json:"transactionId"`
	AccountID                 uuid.UUID      `json:"accountId"`
	Amount                    float64        `json:"amount"`
	Currency                  string         `json:"currency"`
	TransactionType           string         `json:"transactionType"`
	TransactionDate           time.Time      `json:"transactionDate"`
	RecipientAccountID        string         `json:"recipientAccountId,omitempty"`
	RecipientAccountNumber    string         `json:"recipientAccountNumber,omitempty"`
	RecipientCountry          string         `json:"recipientCountry,omitempty"`
	UserTransactionCount24h   int            `json:"userTransactionCount24h"`
	UserTotalAmount24h        float64        `json:"userTotalAmount24h"`
	UserAverageAmount         float64        `json:"userAverageTransactionAmount"`
	DaysSinceFirstTransaction int            `json:"daysSinceFirstTransaction"`
	UniqueRecipientCount1h    int            `json:"uniqueRecipientCount1h"`
	AdditionalData            map[string]any `json:"additionalData,omitempty"`
}

func (c *TransactionContext) activation() map[string]any {
	m := map[string]any{
		"transaction_id":               c.TransactionID.String(),
		"account_id":                   c.AccountID.String(),
		"amount":                       c.Amount,
		"currency":                     c.Currency,
		"transaction_type":             c.TransactionType,
		"recipient_country":            c.RecipientCountry,
		"user_transaction_count_24h":   c.UserTransactionCount24h,
		"user_total_amount_24h":        c.UserTotalAmount24h,
		"user_average_amount":          c.UserAverageAmount,
		"days_since_first_transaction": c.DaysSinceFirstTransaction,
		"unique_recipient_count_1h":    c.UniqueRecipientCount1h,
	}
	m["data"] = dataActivation(c.AdditionalData)
	return m
}

// AccountAccessContext carries login/access signals for one account.
type AccountAccessContext struct {
	AccountID             uuid.UUID      `json:"accountId"`
	Username              string         `json:"username"`
	AccessDate            time.Time      `json:"accessDate"`
	IPAddress             string         `json:"ipAddress"`
	CountryCode           string         `json:"countryCode"`
	City                  string         `json:"city"`
	DeviceID              string         `json:"deviceId"`
	IsTrustedDevice       bool           `json:"isTrustedDevice"`
	UniqueIPCount24h      int            `json:"uniqueIpCount24h"`
	UniqueCountryCount24h int            `json:"uniqueCountryCount24h"`
	IsSuccessful          bool           `json:"isSuccessful"`
	FailedLoginAttempts   int            `json:"failedLoginAttempts"`
	TypicalAccessHours    []int          `json:"typicalAccessHours,omitempty"`
	TypicalCountries      []string       `json:"typicalCountries,omitempty"`
	AdditionalData        map[string]any `json:"additionalData,omitempty"`
}

func (c *AccountAccessContext) activation() map[string]any {
	typicalCountry := false
	for _, cc := range c.TypicalCountries {
		if cc == c.CountryCode {
			typicalCountry = true
			break
		}
	}
	typicalHour := len(c.TypicalAccessHours) == 0
	for _, h := range c.TypicalAccessHours {
		if h == c.AccessDate.Hour() {
			typicalHour = true
			break
		}
	}
	m := map[string]any{
		"account_id":               c.AccountID.String(),
		"country_code":             c.CountryCode,
		"is_trusted_device":        c.IsTrustedDevice,
		"unique_ip_count_24h":      c.UniqueIPCount24h,
		"unique_country_count_24h": c.UniqueCountryCount24h,
		"is_successful":            c.IsSuccessful,
		"failed_login_attempts":    c.FailedLoginAttempts,
		"is_typical_country":       typicalCountry,
		"is_typical_hour":          typicalHour,
		"access_hour":              c.AccessDate.Hour(),
	}
	m["data"] = dataActivation(c.AdditionalData)
	return m
}

// IPContext carries network reputation signals for one address.
type IPContext struct {
	IPAddress             string         `json:"ipAddress"`
	CountryCode           string         `json:"countryCode"`
	City                  string         `json:"city"`
	ISPASN                string         `json:"ispAsn"`
	ReputationScore       int            `json:"reputationScore"`
	IsBlacklisted         bool           `json:"isBlacklisted"`
	IsDatacenterOrProxy   bool           `json:"isDatacenterOrProxy"`
	NetworkType           string         `json:"networkType"`
	UniqueAccountCount10m int            `json:"uniqueAccountCount10m"`
	UniqueAccountCount1h  int            `json:"uniqueAccountCount1h"`
	UniqueAccountCount24h int            `json:"uniqueAccountCount24h"`
	FailedLoginCount10m   int            `json:"failedLoginCount10m"`
	AdditionalData        map[string]any `json:"additionalData,omitempty"`
}

func (c *IPContext) activation() map[string]any {
	m := map[string]any{
		"ip_address":               c.IPAddress,
		"country_code":             c.CountryCode,
		"reputation_score":         c.ReputationScore,
		"is_blacklisted":           c.IsBlacklisted,
		"is_datacenter_or_proxy":   c.IsDatacenterOrProxy,
		"network_type":             c.NetworkType,
		"unique_account_count_10m": c.UniqueAccountCount10m,
		"unique_account_count_1h":  c.UniqueAccountCount1h,
		"unique_account_count_24h": c.UniqueAccountCount24h,
		"failed_login_count_10m":   c.FailedLoginCount10m,
	}
	m["data"] = dataActivation(c.AdditionalData)
	return m
}

// DeviceContext carries device fingerprint signals.
type DeviceContext struct {
	DeviceID              string         `json:"deviceId"`
	DeviceType            string         `json:"deviceType"`
	OperatingSystem       string         `json:"operatingSystem"`
	Browser               string         `json:"browser"`
	IPAddress             string         `json:"ipAddress"`
	FirstSeenDate         *time.Time     `json:"firstSeenDate,omitempty"`
	LastSeenDate          *time.Time     `json:"lastSeenDate,omitempty"`
	IsRegistered          bool           `json:"isRegistered"`
	IsTrusted             bool           `json:"isTrusted"`
	IsJailbroken          bool           `json:"isJailbroken"`
	IsEmulator            bool           `json:"isEmulator"`
	LinkedAccountCount    int            `json:"linkedAccountCount"`
	UniqueAccountCount24h int            `json:"uniqueAccountCount24h"`
	UniqueIPCount24h      int            `json:"uniqueIpCount24h"`
	AdditionalData        map[string]any `json:"additionalData,omitempty"`
}

func (c *DeviceContext) activation() map[string]any {
	firstSeenDays := -1
	if c.FirstSeenDate != nil {
		firstSeenDays = int(time.Since(*c.FirstSeenDate).Hours() / 24)
	}
	m := map[string]any{
		"device_id":                c.DeviceID,
		"device_type":              c.DeviceType,
		"is_registered":            c.IsRegistered,
		"is_trusted":               c.IsTrusted,
		"is_jailbroken":            c.IsJailbroken,
		"is_emulator":              c.IsEmulator,
		"linked_account_count":     c.LinkedAccountCount,
		"unique_account_count_24h": c.UniqueAccountCount24h,
		"unique_ip_count_24h":      c.UniqueIPCount24h,
		"first_seen_days":          firstSeenDays,
	}
	m["data"] = dataActivation(c.AdditionalData)
	return m
}

// SessionContext carries in-session behaviour signals.
type SessionContext struct {
	SessionID            uuid.UUID      `json:"sessionId"`
	AccountID            uuid.UUID      `json:"accountId"`
	StartTime            time.Time      `json:"startTime"`
	LastActivityTime     time.Time      `json:"lastActivityTime"`
	DurationMinutes      int            `json:"durationMinutes"`
	IPAddress            string         `json:"ipAddress"`
	DeviceID             string         `json:"deviceId"`
	UserAgent            string         `json:"userAgent"`
	CountryCode          string         `json:"countryCode"`
	TransactionCount     int            `json:"transactionCount"`
	RapidNavigationCount int            `json:"rapidNavigationCount"`
	SettingsChanged      bool           `json:"settingsChanged"`
	AdditionalData       map[string]any `json:"additionalData,omitempty"`
}

func (c *SessionContext) activation() map[string]any {
	m := map[string]any{
		"session_id":             c.SessionID.String(),
		"account_id":             c.AccountID.String(),
		"duration_minutes":       c.DurationMinutes,
		"transaction_count":      c.TransactionCount,
		"rapid_navigation_count": c.RapidNavigationCount,
		"settings_changed":       c.SettingsChanged,
		"country_code":           c.CountryCode,
	}
	m["data"] = dataActivation(c.AdditionalData)
	return m
}

// dataActivation exposes free-form caller signals under the data variable.
// Absent caller data still binds to an empty map, never nil.
func dataActivation(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}
