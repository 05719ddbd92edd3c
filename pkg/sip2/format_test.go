package sip2

import "testing"

func TestFormatLoginShape(t *testing.T) {
	frame, err := FormatLogin(LoginParams{User: "sipuser", Password: "sippass", Location: "MAIN"}, 0)
	if err != nil {
		t.Fatalf("FormatLogin: %v", err)
	}
	if frame[:2] != cmdLoginRequest {
		t.Errorf("frame does not start with login command code: %q", frame)
	}
	ok, err := verifyChecksum(frame)
	if err != nil || !ok {
		t.Errorf("FormatLogin produced an unverifiable frame: ok=%v err=%v", ok, err)
	}
	seq, found := extractSequenceDigit(frame)
	if !found || seq != 0 {
		t.Errorf("extractSequenceDigit = (%d, %v), want (0, true)", seq, found)
	}
}

func TestFormatCheckoutSanitizesFields(t *testing.T) {
	frame, err := FormatCheckout(CheckoutParams{
		InstitutionID: "BR1",
		PatronID:      "123|456",
		ItemID:        "ITEM1",
	}, 2)
	if err != nil {
		t.Fatalf("FormatCheckout: %v", err)
	}
	if ok, err := verifyChecksum(frame); err != nil || !ok {
		t.Fatalf("unverifiable frame: ok=%v err=%v", ok, err)
	}
	// The injected pipe in the patron id must never split the frame
	// into an extra field.
	_, occ, _, _ := scanFields(frame[2:], checkoutSchema.fixedLen)
	for _, o := range occ {
		if o.Tag == "AA" && o.Value != "123456" {
			t.Errorf("AA = %q, want sanitized 123456", o.Value)
		}
	}
}

func TestFormatBlockPatronHasNoResponseExpectation(t *testing.T) {
	frame, err := FormatBlockPatron(BlockPatronParams{
		InstitutionID: "BR1",
		PatronID:      "999",
		BlockedReason: "lost card",
	}, 7)
	if err != nil {
		t.Fatalf("FormatBlockPatron: %v", err)
	}
	if frame[:2] != cmdBlockPatronRequest {
		t.Errorf("frame does not start with block patron command code: %q", frame)
	}
}

func TestFormatPatronInfoPadsSummary(t *testing.T) {
	frame, err := FormatPatronInfo(PatronInfoParams{
		InstitutionID: "BR1",
		PatronID:      "1",
		Summary:       "Y",
	}, 1)
	if err != nil {
		t.Fatalf("FormatPatronInfo: %v", err)
	}
	body := frame[2:]
	summary := body[3+18 : 3+18+10]
	if len(summary) != 10 {
		t.Fatalf("summary field length = %d, want 10", len(summary))
	}
	if summary[0] != 'Y' {
		t.Errorf("summary[0] = %q, want Y", summary[0])
	}
}
