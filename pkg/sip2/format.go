package sip2

import (
	"fmt"
	"strings"
	"time"
)

// field renders a single variable tag, sanitizing and transliterating
// the value so it can never corrupt the wire framing.
func field(tag, value string) string {
	return tag + Transliterate(Sanitize(value)) + "|"
}

func yn(b bool) byte {
	if b {
		return 'Y'
	}
	return 'N'
}

// LoginParams holds the fields the formatter needs to build a Login (93)
// request. UIDAlgorithm and PWDAlgorithm are always "0" (no encryption)
// per this gateway's non-goal of supporting SIP2 password encryption.
type LoginParams struct {
	User     string
	Password string
	Location string
}

// FormatLogin builds a Login (93) request.
func FormatLogin(p LoginParams, seq int) (string, error) {
	body := cmdLoginRequest + "00" +
		field("CN", p.User) +
		field("CO", p.Password) +
		field("CP", p.Location)
	return appendTrailer(body, seq)
}

// PatronStatusParams holds the fields for a Patron Status (23) request.
type PatronStatusParams struct {
	InstitutionID string
	PatronID      string
	PatronPass    string
	Language      string // 3-digit ISO-like code, defaults to "001"
}

func langOrDefault(lang string) string {
	if lang == "" {
		return "001"
	}
	return lang
}

// FormatPatronStatus builds a Patron Status (23) request.
func FormatPatronStatus(p PatronStatusParams, seq int) (string, error) {
	body := cmdPatronStatusRequest + langOrDefault(p.Language) + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AC", "")
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	return appendTrailer(body, seq)
}

// CheckoutParams holds the fields for a Checkout (11) request.
type CheckoutParams struct {
	InstitutionID   string
	PatronID        string
	ItemID          string
	PatronPass      string
	SCRenewalPolicy bool
	NoBlock         bool
}

// FormatCheckout builds a Checkout (11) request.
func FormatCheckout(p CheckoutParams, seq int) (string, error) {
	body := cmdCheckoutRequest +
		string(yn(p.SCRenewalPolicy)) + string(yn(p.NoBlock)) +
		FormatTimestamp(time.Now()) + strings.Repeat(" ", 18) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AB", p.ItemID) +
		field("AC", "")
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	return appendTrailer(body, seq)
}

// CheckinParams holds the fields for a Checkin (09) request.
type CheckinParams struct {
	InstitutionID   string
	ItemID          string
	CurrentLocation string
}

// FormatCheckin builds a Checkin (09) request.
func FormatCheckin(p CheckinParams, seq int) (string, error) {
	now := FormatTimestamp(time.Now())
	body := cmdCheckinRequest + "N" + now + now +
		field("AP", p.CurrentLocation) +
		field("AO", p.InstitutionID) +
		field("AB", p.ItemID) +
		field("AC", "")
	return appendTrailer(body, seq)
}

// ItemInfoParams holds the fields for an Item Information (17) request.
type ItemInfoParams struct {
	InstitutionID string
	ItemID        string
}

// FormatItemInfo builds an Item Information (17) request.
func FormatItemInfo(p ItemInfoParams, seq int) (string, error) {
	body := cmdItemInfoRequest + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AB", p.ItemID)
	return appendTrailer(body, seq)
}

// RenewParams holds the fields for a Renew (29) request.
type RenewParams struct {
	InstitutionID   string
	PatronID        string
	ItemID          string
	PatronPass      string
	SCRenewalPolicy bool
	NoBlock         bool
}

// FormatRenew builds a Renew (29) request.
func FormatRenew(p RenewParams, seq int) (string, error) {
	body := cmdRenewRequest +
		string(yn(p.SCRenewalPolicy)) + string(yn(p.NoBlock)) +
		FormatTimestamp(time.Now()) + strings.Repeat(" ", 18) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AB", p.ItemID)
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	return appendTrailer(body, seq)
}

// FeePaidParams holds the fields for a Fee Paid (37) request.
type FeePaidParams struct {
	InstitutionID string
	PatronID      string
	FeeAmount     string
	FeeType       string // 2-digit code, defaults to "01" (other/unknown)
	PaymentType   string // 2-digit code, defaults to "00" (cash)
	Currency      string // defaults to "USD"
	FeeIdentifier string
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// FormatFeePaid builds a Fee Paid (37) request.
func FormatFeePaid(p FeePaidParams, seq int) (string, error) {
	feeType := p.FeeType
	if feeType == "" {
		feeType = "01"
	}
	paymentType := p.PaymentType
	if paymentType == "" {
		paymentType = "00"
	}
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	ccyPadded := padRight(currency, 3)
	body := cmdFeePaidRequest + FormatTimestamp(time.Now()) + feeType + paymentType + ccyPadded +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("BK", p.FeeIdentifier) +
		field("BV", p.FeeAmount) +
		field("BH", strings.TrimRight(ccyPadded, " "))
	return appendTrailer(body, seq)
}

// PatronInfoParams holds the fields for a Patron Information (63) request.
// Summary selects which of the six detail categories the LMS should
// return item lists for; an empty Summary asks for none, matching the
// status-only query most dashboards issue.
type PatronInfoParams struct {
	InstitutionID string
	PatronID      string
	PatronPass    string
	Summary       string // up to 10 Y/N/space characters
	StartItem     string // 4-digit item list start position
	EndItem       string // 4-digit item list end position
	Language      string // 3-digit ISO-like code, defaults to "001"
}

// FormatPatronInfo builds a Patron Information (63) request.
func FormatPatronInfo(p PatronInfoParams, seq int) (string, error) {
	summary := p.Summary
	if len(summary) > 10 {
		summary = summary[:10]
	}
	summary = summary + strings.Repeat(" ", 10-len(summary))
	body := cmdPatronInfoRequest + langOrDefault(p.Language) + FormatTimestamp(time.Now()) + summary +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID)
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	if p.StartItem != "" {
		body += field("BP", p.StartItem)
	}
	if p.EndItem != "" {
		body += field("BQ", p.EndItem)
	}
	return appendTrailer(body, seq)
}

// HoldParams holds the fields for a Hold (15) request.
type HoldParams struct {
	InstitutionID  string
	PatronID       string
	ItemID         string
	PatronPass     string
	HoldMode       string // "+" place, "-" cancel, "*" modify
	ExpiryDate     string
	TitleID        string
	PickupLocation string
}

// FormatHold builds a Hold (15) request.
func FormatHold(p HoldParams, seq int) (string, error) {
	mode := p.HoldMode
	if mode == "" {
		mode = "+"
	}
	body := cmdHoldRequest + mode + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID)
	if p.ExpiryDate != "" {
		body += field("BW", p.ExpiryDate)
	}
	if p.ItemID != "" {
		body += field("AB", p.ItemID)
	}
	if p.TitleID != "" {
		body += field("BT", p.TitleID)
	}
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	if p.PickupLocation != "" {
		body += field("BS", p.PickupLocation)
	}
	body += field("AC", "")
	return appendTrailer(body, seq)
}

// RenewAllParams holds the fields for a Renew All (65) request.
type RenewAllParams struct {
	InstitutionID string
	PatronID      string
	PatronPass    string
}

// FormatRenewAll builds a Renew All (65) request.
func FormatRenewAll(p RenewAllParams, seq int) (string, error) {
	now := FormatTimestamp(time.Now())
	body := cmdRenewAllRequest + now + now +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AC", "")
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	return appendTrailer(body, seq)
}

// EndSessionParams holds the fields for an End Session (35) request.
type EndSessionParams struct {
	InstitutionID string
	PatronID      string
}

// FormatEndSession builds an End Session (35) request.
func FormatEndSession(p EndSessionParams, seq int) (string, error) {
	body := cmdEndSessionRequest + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AC", "")
	return appendTrailer(body, seq)
}

// FormatSCStatus builds an SC Status (99) request. statusCode is 0 (SC
// ok), 1 (SC printer out of paper), or 2 (SC shutting down); this
// gateway always sends 0, both after login and for status queries.
func FormatSCStatus(statusCode int, maxPrintWidth int, protocolVersion string, seq int) (string, error) {
	body := fmt.Sprintf("%s%d%03d%s", cmdSCStatusRequest, statusCode, maxPrintWidth, protocolVersion)
	return appendTrailer(body, seq)
}

// BlockPatronParams holds the fields for a Block Patron (01) request.
// This message has no response in SIP2 and is sent fire-and-forget.
type BlockPatronParams struct {
	InstitutionID string
	PatronID      string
	CardRetained  bool
	BlockedReason string
}

// FormatBlockPatron builds a Block Patron (01) request.
func FormatBlockPatron(p BlockPatronParams, seq int) (string, error) {
	body := cmdBlockPatronRequest + string(yn(p.CardRetained)) + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AC", "") +
		field("AL", p.BlockedReason)
	return appendTrailer(body, seq)
}

// ItemStatusUpdateParams holds the fields for an Item Status Update
// (19) request.
type ItemStatusUpdateParams struct {
	InstitutionID string
	ItemID        string
	// SecurityMarker is one of "0", "1", "2", "3"; defaults to "0".
	SecurityMarker string
}

// FormatItemStatusUpdate builds an Item Status Update (19) request.
func FormatItemStatusUpdate(p ItemStatusUpdateParams, seq int) (string, error) {
	marker := p.SecurityMarker
	if marker == "" {
		marker = "0"
	}
	body := cmdItemStatusUpdateRequest + marker + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AB", p.ItemID)
	return appendTrailer(body, seq)
}

// PatronEnableParams holds the fields for a Patron Enable (25) request.
type PatronEnableParams struct {
	InstitutionID string
	PatronID      string
	PatronPass    string
}

// FormatPatronEnable builds a Patron Enable (25) request.
func FormatPatronEnable(p PatronEnableParams, seq int) (string, error) {
	body := cmdPatronEnableRequest + FormatTimestamp(time.Now()) +
		field("AO", p.InstitutionID) +
		field("AA", p.PatronID) +
		field("AC", "")
	if p.PatronPass != "" {
		body += field("AD", p.PatronPass)
	}
	return appendTrailer(body, seq)
}
