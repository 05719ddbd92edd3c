package sip2

import (
	"fmt"
	"strconv"
	"strings"
)

type tagValue struct {
	Tag   string
	Value string
}

func isUpperAlpha(b byte) bool { return b >= 'A' && b <= 'Z' }

// scanFields splits a response frame's command-code-stripped body into
// its fixed header and an ordered list of variable tag/value pairs,
// recognizing the trailing AY<seq>AZ<hex> marker when present. It never
// fails: short or malformed input degrades to fewer recognized fields,
// per the parser's "never throws" contract.
func scanFields(afterCmd string, fixedLen int) (fixedHeader string, occurrences []tagValue, trailerSeq int, hasTrailer bool) {
	segments := strings.Split(afterCmd, "|")
	if len(segments) == 0 {
		return "", nil, 0, false
	}

	first := segments[0]
	if len(first) >= fixedLen {
		fixedHeader = first[:fixedLen]
		rest := first[fixedLen:]
		if len(rest) >= 2 && isUpperAlpha(rest[0]) && isUpperAlpha(rest[1]) {
			occurrences = append(occurrences, tagValue{rest[:2], rest[2:]})
		}
	} else {
		fixedHeader = first
	}

	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		if i == len(segments)-1 {
			trimmed := strings.TrimSuffix(seg, "\r")
			if len(trimmed) >= 5 && trimmed[0:2] == "AY" && trimmed[3:5] == "AZ" {
				if d := trimmed[2]; d >= '0' && d <= '9' {
					trailerSeq = int(d - '0')
					hasTrailer = true
				}
				continue
			}
		}
		if len(seg) >= 2 && isUpperAlpha(seg[0]) && isUpperAlpha(seg[1]) {
			occurrences = append(occurrences, tagValue{seg[:2], seg[2:]})
		}
	}
	return fixedHeader, occurrences, trailerSeq, hasTrailer
}

// classify sorts a variant's tag/value occurrences into screen messages
// (AF, always), repeated per-variant lists, singular known fields
// (first occurrence wins), and extensions (every unknown tag, AY/AZ
// excluded). extensions is left nil when empty.
func classify(occurrences []tagValue, schema variantSchema) (singular map[string]string, repeated map[string][]string, screenMessages []string, extensions map[string]string) {
	singular = make(map[string]string)
	repeated = make(map[string][]string)
	for _, o := range occurrences {
		switch {
		case o.Tag == "AF":
			screenMessages = append(screenMessages, o.Value)
		case schema.repeatedTags[o.Tag]:
			repeated[o.Tag] = append(repeated[o.Tag], o.Value)
		case schema.knownTags[o.Tag]:
			if _, ok := singular[o.Tag]; !ok {
				singular[o.Tag] = o.Value
			}
		case o.Tag == "AY" || o.Tag == "AZ":
			// trailer tags never surface as fields or extensions.
		default:
			if extensions == nil {
				extensions = make(map[string]string)
			}
			if _, ok := extensions[o.Tag]; !ok {
				extensions[o.Tag] = o.Value
			}
		}
	}
	return singular, repeated, screenMessages, extensions
}

// charAt returns the byte at i, or a space when i is out of range —
// the parser's default for a truncated fixed header.
func charAt(s string, i int) byte {
	if i < 0 || i >= len(s) {
		return ' '
	}
	return s[i]
}

func flagAt(s string, i int) bool { return charAt(s, i) == 'Y' }

// okAt reads the '1'/'0' ok-code SIP2 uses for Checkin, Checkout,
// Hold, and Renew(All) responses — distinct from the Y/N flags used
// elsewhere in the same fixed headers.
func okAt(s string, i int) bool { return charAt(s, i) == '1' }

func sliceAt(s string, start, length int) string {
	if start < 0 || start >= len(s) {
		return ""
	}
	end := start + length
	if end > len(s) {
		end = len(s)
	}
	return s[start:end]
}

func numAt(s string, start, length int) int {
	trimmed := strings.TrimSpace(sliceAt(s, start, length))
	if trimmed == "" {
		return 0
	}
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return v
}

func checkCode(frame, want string) (string, error) {
	if len(frame) < 2 {
		return "", fmt.Errorf("%w: frame shorter than a command code", ErrUnexpectedResponseCode)
	}
	got := frame[:2]
	if got != want {
		return "", fmt.Errorf("%w: got %s want %s", ErrUnexpectedResponseCode, got, want)
	}
	return frame[2:], nil
}

// ParseLogin parses a Login (94) response. Success is "starts with 941".
func ParseLogin(frame string) (*LoginResult, error) {
	body, err := checkCode(frame, cmdLoginResponse)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Ok: charAt(body, 0) == '1'}, nil
}

// ParsePatronStatus parses a Patron Status / Patron Enable (24) response.
func ParsePatronStatus(frame string) (*PatronStatusRecord, error) {
	body, err := checkCode(frame, cmdPatronStatusResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, patronStatusSchema.fixedLen)
	singular, repeated, screens, ext := classify(occ, patronStatusSchema)

	r := &PatronStatusRecord{
		ChargePrivilegesDenied:       flagAt(fixed, 0),
		RenewalPrivilegesDenied:      flagAt(fixed, 1),
		RecallPrivilegesDenied:       flagAt(fixed, 2),
		HoldPrivilegesDenied:         flagAt(fixed, 3),
		CardReportedLost:             flagAt(fixed, 4),
		TooManyItemsCharged:          flagAt(fixed, 5),
		TooManyItemsOverdue:          flagAt(fixed, 6),
		TooManyRenewals:              flagAt(fixed, 7),
		TooManyClaimsOfItemsReturned: flagAt(fixed, 8),
		TooManyItemsLost:             flagAt(fixed, 9),
		ExcessiveOutstandingFines:    flagAt(fixed, 10),
		ExcessiveOutstandingFees:     flagAt(fixed, 11),
		RecallOverdue:                flagAt(fixed, 12),
		TooManyItemsBilled:           flagAt(fixed, 13),
		Language:                     sliceAt(fixed, 14, 3),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 17, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	r.PersonalName = singular["AE"]
	r.ValidPatron = singular["BL"] == "Y"
	r.HoldItemsLimit, _ = strconv.Atoi(strings.TrimSpace(singular["BZ"]))
	r.OverdueItemsLimit, _ = strconv.Atoi(strings.TrimSpace(singular["CA"]))
	r.ChargedItemsLimit, _ = strconv.Atoi(strings.TrimSpace(singular["CB"]))
	r.FineItems = repeated["AU"]
	r.ValidPatronPassword = singular["CD"] == "Y"
	r.RecallItems = singular["AS"]
	return r, nil
}

func parseCheckoutLike(frame, code string) (*CheckoutRecord, error) {
	body, err := checkCode(frame, code)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, checkoutSchema.fixedLen)
	singular, _, screens, ext := classify(occ, checkoutSchema)

	r := &CheckoutRecord{
		Ok:            okAt(fixed, 0),
		RenewalOk:     flagAt(fixed, 1),
		MagneticMedia: string(sliceAt(fixed, 2, 1)),
		Desensitize:   flagAt(fixed, 3),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 4, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	r.ItemIdentifier = singular["AB"]
	r.TitleIdentifier = singular["AJ"]
	r.DueDate = singular["AH"]
	r.FeeAmount = singular["BV"]
	return r, nil
}

// ParseCheckout parses a Checkout (12) response.
func ParseCheckout(frame string) (*CheckoutRecord, error) {
	return parseCheckoutLike(frame, cmdCheckoutResponse)
}

// ParseRenew parses a Renew (30) response; SIP2 gives it the same
// wire shape as Checkout.
func ParseRenew(frame string) (*CheckoutRecord, error) {
	return parseCheckoutLike(frame, cmdRenewResponse)
}

// ParseCheckin parses a Checkin (10) response.
func ParseCheckin(frame string) (*CheckinRecord, error) {
	body, err := checkCode(frame, cmdCheckinResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, checkinSchema.fixedLen)
	singular, _, screens, ext := classify(occ, checkinSchema)

	r := &CheckinRecord{
		Ok:            okAt(fixed, 0),
		Resensitize:   flagAt(fixed, 1),
		MagneticMedia: string(sliceAt(fixed, 2, 1)),
		Alert:         flagAt(fixed, 3),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 4, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.ItemIdentifier = singular["AB"]
	r.TitleIdentifier = singular["AJ"]
	r.SortBin = singular["AQ"]
	return r, nil
}

// ParseItemInfo parses an Item Information (18) response.
func ParseItemInfo(frame string) (*ItemInfoRecord, error) {
	body, err := checkCode(frame, cmdItemInfoResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, itemInfoSchema.fixedLen)
	singular, _, screens, ext := classify(occ, itemInfoSchema)

	r := &ItemInfoRecord{
		CirculationStatus: sliceAt(fixed, 0, 2),
		SecurityMarker:    sliceAt(fixed, 2, 1),
		FeeType:           sliceAt(fixed, 3, 2),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 5, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.ItemIdentifier = singular["AB"]
	r.TitleIdentifier = singular["AJ"]
	r.MediaType = singular["CK"]
	r.FeeAmount = singular["BH"]
	return r, nil
}

// ParseFeePaid parses a Fee Paid (38) response.
func ParseFeePaid(frame string) (*FeePaidRecord, error) {
	body, err := checkCode(frame, cmdFeePaidResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, feePaidSchema.fixedLen)
	singular, _, screens, ext := classify(occ, feePaidSchema)

	r := &FeePaidRecord{PaymentAccepted: flagAt(fixed, 0)}
	r.Timestamp = Timestamp(sliceAt(fixed, 1, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	r.FeeIdentifier = singular["BK"]
	r.Currency = singular["BH"]
	return r, nil
}

// ParsePatronInfo parses a Patron Information (64) response.
func ParsePatronInfo(frame string) (*PatronInfoRecord, error) {
	body, err := checkCode(frame, cmdPatronInfoResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, patronInfoSchema.fixedLen)
	singular, repeated, screens, ext := classify(occ, patronInfoSchema)

	r := &PatronInfoRecord{
		ChargePrivilegesDenied:       flagAt(fixed, 0),
		RenewalPrivilegesDenied:      flagAt(fixed, 1),
		RecallPrivilegesDenied:       flagAt(fixed, 2),
		HoldPrivilegesDenied:         flagAt(fixed, 3),
		CardReportedLost:             flagAt(fixed, 4),
		TooManyItemsCharged:          flagAt(fixed, 5),
		TooManyItemsOverdue:          flagAt(fixed, 6),
		TooManyRenewals:              flagAt(fixed, 7),
		TooManyClaimsOfItemsReturned: flagAt(fixed, 8),
		TooManyItemsLost:             flagAt(fixed, 9),
		ExcessiveOutstandingFines:    flagAt(fixed, 10),
		ExcessiveOutstandingFees:     flagAt(fixed, 11),
		RecallOverdue:                flagAt(fixed, 12),
		TooManyItemsBilled:           flagAt(fixed, 13),
		Language:                     sliceAt(fixed, 14, 3),
		HoldItemsCount:               numAt(fixed, 35, 4),
		OverdueItemsCount:            numAt(fixed, 39, 4),
		ChargedItemsCount:            numAt(fixed, 43, 4),
		FineItemsCount:               numAt(fixed, 47, 4),
		RecallItemsCount:             numAt(fixed, 51, 4),
		UnavailableHoldsCount:        numAt(fixed, 55, 4),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 17, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	r.PersonalName = singular["AE"]
	r.ValidPatron = singular["BL"] == "Y"
	r.Email = singular["BE"]
	r.HomePhone = singular["BF"]
	r.HomeAddress = singular["BD"]
	r.StartItem = singular["BP"]
	r.EndItem = singular["BQ"]
	r.OverdueItems = repeated["AT"]
	r.ChargedItems = repeated["AU"]
	r.FineItems = repeated["AV"]
	r.RecallItems = repeated["BU"]
	r.UnavailableHoldItems = repeated["BJ"]
	return r, nil
}

// ParseHold parses a Hold (16) response.
func ParseHold(frame string) (*HoldRecord, error) {
	body, err := checkCode(frame, cmdHoldResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, holdSchema.fixedLen)
	singular, _, screens, ext := classify(occ, holdSchema)

	r := &HoldRecord{
		Ok:        okAt(fixed, 0),
		Available: flagAt(fixed, 1),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 2, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	r.ItemIdentifier = singular["AB"]
	r.TitleIdentifier = singular["AJ"]
	r.ExpirationDate = singular["BW"]
	r.PickupLocation = singular["BS"]
	r.QueuePosition = singular["MN"]
	return r, nil
}

// ParseRenewAll parses a Renew All (66) response.
func ParseRenewAll(frame string) (*RenewAllRecord, error) {
	body, err := checkCode(frame, cmdRenewAllResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, renewAllSchema.fixedLen)
	singular, repeated, screens, ext := classify(occ, renewAllSchema)

	r := &RenewAllRecord{
		Ok:             okAt(fixed, 0),
		RenewedCount:   numAt(fixed, 1, 4),
		UnrenewedCount: numAt(fixed, 5, 4),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 9, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	r.RenewedItems = repeated["BM"]
	r.UnrenewedItems = repeated["BN"]
	return r, nil
}

// ParseEndSession parses an End Session (36) response.
func ParseEndSession(frame string) (*EndSessionRecord, error) {
	body, err := checkCode(frame, cmdEndSessionResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, endSessionSchema.fixedLen)
	singular, _, screens, ext := classify(occ, endSessionSchema)

	r := &EndSessionRecord{EndSession: flagAt(fixed, 0)}
	r.Timestamp = Timestamp(sliceAt(fixed, 1, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.PatronIdentifier = singular["AA"]
	return r, nil
}

// ParseACSStatus parses an SC/ACS Status (98) response.
func ParseACSStatus(frame string) (*ACSStatusRecord, error) {
	body, err := checkCode(frame, cmdACSStatus)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, acsStatusSchema.fixedLen)
	singular, _, screens, ext := classify(occ, acsStatusSchema)

	r := &ACSStatusRecord{
		Online:          flagAt(fixed, 0),
		CheckinOk:       flagAt(fixed, 1),
		CheckoutOk:      flagAt(fixed, 2),
		RenewalPolicy:   flagAt(fixed, 3),
		StatusUpdateOk:  flagAt(fixed, 4),
		OfflineOk:       flagAt(fixed, 5),
		TimeoutPeriod:   numAt(fixed, 6, 3),
		RetriesAllowed:  numAt(fixed, 9, 3),
		ProtocolVersion: sliceAt(fixed, 30, 4),
	}
	r.Timestamp = Timestamp(sliceAt(fixed, 12, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.LibraryName = singular["AM"]
	r.SupportedMessages = singular["BX"]
	r.TerminalLocation = singular["AN"]
	return r, nil
}

// ParseItemStatusUpdate parses an Item Status Update (20) response.
func ParseItemStatusUpdate(frame string) (*ItemStatusUpdateRecord, error) {
	body, err := checkCode(frame, cmdItemStatusUpdateResponse)
	if err != nil {
		return nil, err
	}
	fixed, occ, _, _ := scanFields(body, itemStatusUpdateSchema.fixedLen)
	singular, _, screens, ext := classify(occ, itemStatusUpdateSchema)

	r := &ItemStatusUpdateRecord{PropertiesOk: flagAt(fixed, 0)}
	r.Timestamp = Timestamp(sliceAt(fixed, 1, 18))
	r.ScreenMessages = screens
	r.Extensions = ext
	r.InstitutionID = singular["AO"]
	r.ItemIdentifier = singular["AB"]
	r.TitleIdentifier = singular["AJ"]
	return r, nil
}
