package types

import "time"

type ConsentChannel string

const (
	ChannelVoice     ConsentChannel = "voice"
	ChannelSMS       ConsentChannel = "sms"
	ChannelEmail     ConsentChannel = "email"
	ChannelWeb       ConsentChannel = "web"
	ChannelMobileApp ConsentChannel = "mobile_app"
)

func (c ConsentChannel) Valid() bool {
	switch c {
	case ChannelVoice, ChannelSMS, ChannelEmail, ChannelWeb, ChannelMobileApp:
		return true
	}
	return false
}

type ConsentType string

const (
	ConsentCallRecording           ConsentType = "call_recording"
	ConsentDataProcessing          ConsentType = "data_processing"
	ConsentMarketingCommunications ConsentType = "marketing_communications"
	ConsentThirdPartySharing       ConsentType = "third_party_sharing"
	ConsentPaymentProcessing       ConsentType = "payment_processing"
	ConsentMedicalTreatment        ConsentType = "medical_treatment"
	ConsentPrescriptionRefill      ConsentType = "prescription_refill"
)

func (t ConsentType) Valid() bool {
	switch t {
	case ConsentCallRecording, ConsentDataProcessing, ConsentMarketingCommunications,
		ConsentThirdPartySharing, ConsentPaymentProcessing, ConsentMedicalTreatment,
		ConsentPrescriptionRefill:
		return true
	}
	return false
}

// ConsentKey identifies the one logical current record.
type ConsentKey struct {
	CustomerID  string
	TenantID    string
	ConsentType ConsentType
	Channel     ConsentChannel
}

type ConsentRecord struct {
	ConsentID    string         `json:"consent_id"`
	CustomerID   string         `json:"customer_id"`
	TenantID     string         `json:"tenant_id"`
	Channel      ConsentChannel `json:"channel"`
	ConsentType  ConsentType    `json:"consent_type"`
	Granted      bool           `json:"granted"`
	GrantedAt    *time.Time     `json:"granted_at,omitempty"`
	RevokedAt    *time.Time     `json:"revoked_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	AuditTrailID string         `json:"audit_trail_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (r ConsentRecord) Key() ConsentKey {
	return ConsentKey{
		CustomerID:  r.CustomerID,
		TenantID:    r.TenantID,
		ConsentType: r.ConsentType,
		Channel:     r.Channel,
	}
}

// Active reports whether the record grants consent at now.
func (r ConsentRecord) Active(now time.Time) bool {
	if !r.Granted || r.RevokedAt != nil {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// Expired reports a grant that lapsed without being revoked.
func (r ConsentRecord) Expired(now time.Time) bool {
	return r.Granted && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

type ConsentRequest struct {
	CustomerID   string         `json:"customer_id"`
	TenantID     string         `json:"tenant_id"`
	Channel      ConsentChannel `json:"channel"`
	ConsentType  ConsentType    `json:"consent_type"`
	Granted      bool           `json:"granted"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	AuditTrailID string         `json:"audit_trail_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type OverallStatus string

const (
	OverallGranted OverallStatus = "granted"
	OverallPartial OverallStatus = "partial"
	OverallDenied  OverallStatus = "denied"
	OverallExpired OverallStatus = "expired"
)

type ConsentStatus struct {
	CustomerID    string          `json:"customer_id"`
	TenantID      string          `json:"tenant_id"`
	Consents      []ConsentRecord `json:"consents"`
	OverallStatus OverallStatus   `json:"overall_status"`
}
