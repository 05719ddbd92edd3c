package sip2

// Command codes, request and response, as laid out in the formatter
// table and the parser's variant dispatch.
const (
	cmdLoginRequest  = "93"
	cmdLoginResponse = "94"

	cmdPatronStatusRequest  = "23"
	cmdPatronStatusResponse = "24"

	cmdCheckoutRequest  = "11"
	cmdCheckoutResponse = "12"

	cmdCheckinRequest  = "09"
	cmdCheckinResponse = "10"

	cmdItemInfoRequest  = "17"
	cmdItemInfoResponse = "18"

	cmdRenewRequest  = "29"
	cmdRenewResponse = "30"

	cmdFeePaidRequest  = "37"
	cmdFeePaidResponse = "38"

	cmdPatronInfoRequest  = "63"
	cmdPatronInfoResponse = "64"

	cmdHoldRequest  = "15"
	cmdHoldResponse = "16"

	cmdRenewAllRequest  = "65"
	cmdRenewAllResponse = "66"

	cmdEndSessionRequest  = "35"
	cmdEndSessionResponse = "36"

	cmdSCStatusRequest = "99"
	cmdACSStatus       = "98"

	cmdBlockPatronRequest = "01"

	cmdItemStatusUpdateRequest  = "19"
	cmdItemStatusUpdateResponse = "20"

	cmdPatronEnableRequest = "25"
)

// Common is embedded by every parsed response variant. ScreenMessages
// collects every AF occurrence in wire order; Extensions carries every
// tag the variant does not know about (never AY/AZ) and is nil, not
// an empty map, when there is nothing to carry.
type Common struct {
	Timestamp      Timestamp
	ScreenMessages []string
	Extensions     map[string]string
}

// ScreenMessage returns the first screen message, or "" when there is
// none. Most callers only display one line; ScreenMessages remains the
// authoritative ordered list.
func (c Common) ScreenMessage() string {
	if len(c.ScreenMessages) == 0 {
		return ""
	}
	return c.ScreenMessages[0]
}

func (c *Common) addExtension(tag, value string) {
	if c.Extensions == nil {
		c.Extensions = make(map[string]string)
	}
	if _, exists := c.Extensions[tag]; !exists {
		c.Extensions[tag] = value
	}
}

// PatronStatusRecord is the parsed form of both the Patron Status (24)
// and Patron Enable (24) responses.
type PatronStatusRecord struct {
	Common

	Language string

	ChargePrivilegesDenied       bool
	RenewalPrivilegesDenied      bool
	RecallPrivilegesDenied       bool
	HoldPrivilegesDenied         bool
	CardReportedLost             bool
	TooManyItemsCharged          bool
	TooManyItemsOverdue          bool
	TooManyRenewals              bool
	TooManyClaimsOfItemsReturned bool
	TooManyItemsLost             bool
	ExcessiveOutstandingFines    bool
	ExcessiveOutstandingFees     bool
	RecallOverdue                bool
	TooManyItemsBilled           bool

	InstitutionID       string // AO
	PatronIdentifier    string // AA
	PersonalName        string // AE
	ValidPatron         bool   // BL
	HoldItemsLimit      int    // BZ
	OverdueItemsLimit   int    // CA
	ChargedItemsLimit   int    // CB
	FineItems           []string // AU, repeated
	ValidPatronPassword bool     // CD
	RecallItems         string   // AS, vendor-positional per the known-tag glossary
}

// CheckoutRecord is the parsed form of both the Checkout (12) and
// Renew (30) responses; SIP2 defines the same wire shape for both.
type CheckoutRecord struct {
	Common

	Ok            bool
	RenewalOk     bool
	MagneticMedia string // 'Y', 'N', or 'U'
	Desensitize   bool

	InstitutionID    string // AO
	PatronIdentifier string // AA
	ItemIdentifier   string // AB
	TitleIdentifier  string // AJ
	DueDate          string // AH
	FeeAmount        string // BV
}

// CheckinRecord is the parsed form of the Checkin (10) response.
type CheckinRecord struct {
	Common

	Ok            bool
	Resensitize   bool
	MagneticMedia string
	Alert         bool

	InstitutionID   string // AO
	ItemIdentifier  string // AB
	TitleIdentifier string // AJ
	SortBin         string // AQ
}

// ItemInfoRecord is the parsed form of the Item Information (18) response.
type ItemInfoRecord struct {
	Common

	CirculationStatus string // 2-digit code
	SecurityMarker    string // single enumerated char
	FeeType           string // 2-digit code

	InstitutionID   string // AO
	ItemIdentifier  string // AB
	TitleIdentifier string // AJ
	MediaType       string // CK
	FeeAmount       string // BH
}

// FeePaidRecord is the parsed form of the Fee Paid (38) response.
type FeePaidRecord struct {
	Common

	PaymentAccepted bool

	InstitutionID    string // AO
	PatronIdentifier string // AA
	FeeIdentifier    string // BK
	Currency         string // BH
}

// PatronInfoRecord is the parsed form of the Patron Information (64) response.
type PatronInfoRecord struct {
	Common

	Language string

	ChargePrivilegesDenied       bool
	RenewalPrivilegesDenied      bool
	RecallPrivilegesDenied       bool
	HoldPrivilegesDenied         bool
	CardReportedLost             bool
	TooManyItemsCharged          bool
	TooManyItemsOverdue          bool
	TooManyRenewals              bool
	TooManyClaimsOfItemsReturned bool
	TooManyItemsLost             bool
	ExcessiveOutstandingFines    bool
	ExcessiveOutstandingFees     bool
	RecallOverdue                bool
	TooManyItemsBilled           bool

	HoldItemsCount          int
	OverdueItemsCount       int
	ChargedItemsCount       int
	FineItemsCount          int
	RecallItemsCount        int
	UnavailableHoldsCount   int

	InstitutionID    string // AO
	PatronIdentifier string // AA
	PersonalName     string // AE
	ValidPatron      bool   // BL
	Email            string // BE
	HomePhone        string // BF
	HomeAddress      string // BD
	StartItem        string // BP
	EndItem          string // BQ

	OverdueItems         []string // AT, repeated
	ChargedItems         []string // AU, repeated
	FineItems            []string // AV, repeated
	RecallItems          []string // BU, repeated
	UnavailableHoldItems []string // BJ, repeated
}

// HoldRecord is the parsed form of the Hold (16) response.
type HoldRecord struct {
	Common

	Ok        bool
	Available bool

	InstitutionID    string // AO
	PatronIdentifier string // AA
	ItemIdentifier   string // AB
	TitleIdentifier  string // AJ
	ExpirationDate   string // BW
	PickupLocation   string // BS
	QueuePosition    string // MN
}

// RenewAllRecord is the parsed form of the Renew All (66) response.
type RenewAllRecord struct {
	Common

	Ok             bool
	RenewedCount   int
	UnrenewedCount int

	InstitutionID    string   // AO
	PatronIdentifier string   // AA
	RenewedItems     []string // BM, repeated
	UnrenewedItems   []string // BN, repeated
}

// EndSessionRecord is the parsed form of the End Session (36) response.
type EndSessionRecord struct {
	Common

	EndSession bool

	InstitutionID    string // AO
	PatronIdentifier string // AA
}

// ACSStatusRecord is the parsed form of the SC/ACS Status (98) response.
type ACSStatusRecord struct {
	Common

	Online          bool
	CheckinOk       bool
	CheckoutOk      bool
	RenewalPolicy   bool
	StatusUpdateOk  bool
	OfflineOk       bool
	TimeoutPeriod   int
	RetriesAllowed  int
	ProtocolVersion string

	InstitutionID     string // AO
	LibraryName       string // AM
	SupportedMessages string // BX
	TerminalLocation  string // AN
}

// ItemStatusUpdateRecord is the parsed form of the Item Status Update (20) response.
type ItemStatusUpdateRecord struct {
	Common

	PropertiesOk bool

	InstitutionID   string // AO
	ItemIdentifier  string // AB
	TitleIdentifier string // AJ
}

// LoginResult is the parsed form of the Login (94) response.
type LoginResult struct {
	Ok bool
}

// variantSchema pins a response variant's fixed-header byte length and
// its known-tag/repeated-tag sets, used by the generic tag scanner in
// parse.go. Tags outside knownTags (and never AY/AZ) land in Extensions.
type variantSchema struct {
	fixedLen     int
	knownTags    map[string]bool
	repeatedTags map[string]bool
}

func newSchema(fixedLen int, known []string, repeated []string) variantSchema {
	s := variantSchema{
		fixedLen:     fixedLen,
		knownTags:    make(map[string]bool, len(known)),
		repeatedTags: make(map[string]bool, len(repeated)),
	}
	for _, t := range known {
		s.knownTags[t] = true
	}
	for _, t := range repeated {
		s.repeatedTags[t] = true
	}
	return s
}

var (
	patronStatusSchema = newSchema(35,
		[]string{"AO", "AA", "AE", "BL", "BZ", "CA", "CB", "AU", "CD", "AS", "AF", "AG"},
		[]string{"AU"})

	checkoutSchema = newSchema(22,
		[]string{"AO", "AA", "AB", "AJ", "AH", "BV", "AF", "AG"},
		nil)

	checkinSchema = newSchema(22,
		[]string{"AO", "AB", "AJ", "AQ", "AF", "AG"},
		nil)

	itemInfoSchema = newSchema(23,
		[]string{"AO", "AB", "AJ", "BG", "BH", "CK", "AF"},
		nil)

	feePaidSchema = newSchema(19,
		[]string{"AO", "AA", "BK", "BH", "AF"},
		nil)

	patronInfoSchema = newSchema(59,
		[]string{"AO", "AA", "AE", "BL", "BE", "BF", "BD", "AF", "AT", "AU", "AV", "BU", "BJ", "BP", "BQ"},
		[]string{"AT", "AU", "AV", "BU", "BJ"})

	holdSchema = newSchema(20,
		[]string{"AO", "AA", "AB", "AJ", "BW", "BS", "MN", "AF", "AG"},
		nil)

	renewAllSchema = newSchema(27,
		[]string{"AO", "AA", "BM", "BN", "AF"},
		[]string{"BM", "BN"})

	endSessionSchema = newSchema(19,
		[]string{"AO", "AA", "AF", "AG"},
		nil)

	acsStatusSchema = newSchema(34,
		[]string{"AO", "AM", "BX", "AN", "AF"},
		nil)

	itemStatusUpdateSchema = newSchema(19,
		[]string{"AO", "AB", "AJ", "AF", "AG"},
		nil)
)
