package manager

import "github.com/GigaFlair-LLC/gigaflair-sip2-bridge/pkg/sip2"

// Each typed operation submits one SIP2 command to the named branch's
// FIFO queue and type-asserts the generic result back to its concrete
// record type. These mirror the HTTP route table one for one.

func (m *Manager) PatronStatus(branchID string, p sip2.PatronStatusParams) (*sip2.PatronStatusRecord, error) {
	v, err := m.execute(branchID, "patronStatus", p, func(c *sip2.Client) (any, error) { return c.PatronStatus(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.PatronStatusRecord), nil
}

func (m *Manager) Checkout(branchID string, p sip2.CheckoutParams) (*sip2.CheckoutRecord, error) {
	v, err := m.execute(branchID, "checkout", p, func(c *sip2.Client) (any, error) { return c.Checkout(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.CheckoutRecord), nil
}

func (m *Manager) Checkin(branchID string, p sip2.CheckinParams) (*sip2.CheckinRecord, error) {
	v, err := m.execute(branchID, "checkin", p, func(c *sip2.Client) (any, error) { return c.Checkin(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.CheckinRecord), nil
}

func (m *Manager) ItemInfo(branchID string, p sip2.ItemInfoParams) (*sip2.ItemInfoRecord, error) {
	v, err := m.execute(branchID, "itemInfo", p, func(c *sip2.Client) (any, error) { return c.ItemInfo(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.ItemInfoRecord), nil
}

func (m *Manager) Renew(branchID string, p sip2.RenewParams) (*sip2.CheckoutRecord, error) {
	v, err := m.execute(branchID, "renew", p, func(c *sip2.Client) (any, error) { return c.Renew(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.CheckoutRecord), nil
}

func (m *Manager) FeePaid(branchID string, p sip2.FeePaidParams) (*sip2.FeePaidRecord, error) {
	v, err := m.execute(branchID, "feePaid", p, func(c *sip2.Client) (any, error) { return c.FeePaid(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.FeePaidRecord), nil
}

func (m *Manager) PatronInfo(branchID string, p sip2.PatronInfoParams) (*sip2.PatronInfoRecord, error) {
	v, err := m.execute(branchID, "patronInfo", p, func(c *sip2.Client) (any, error) { return c.PatronInfo(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.PatronInfoRecord), nil
}

func (m *Manager) Hold(branchID string, p sip2.HoldParams) (*sip2.HoldRecord, error) {
	v, err := m.execute(branchID, "hold", p, func(c *sip2.Client) (any, error) { return c.Hold(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.HoldRecord), nil
}

func (m *Manager) RenewAll(branchID string, p sip2.RenewAllParams) (*sip2.RenewAllRecord, error) {
	v, err := m.execute(branchID, "renewAll", p, func(c *sip2.Client) (any, error) { return c.RenewAll(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.RenewAllRecord), nil
}

func (m *Manager) EndSession(branchID string, p sip2.EndSessionParams) (*sip2.EndSessionRecord, error) {
	v, err := m.execute(branchID, "endSession", p, func(c *sip2.Client) (any, error) { return c.EndSession(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.EndSessionRecord), nil
}

func (m *Manager) ItemStatusUpdate(branchID string, p sip2.ItemStatusUpdateParams) (*sip2.ItemStatusUpdateRecord, error) {
	v, err := m.execute(branchID, "itemStatusUpdate", p, func(c *sip2.Client) (any, error) { return c.ItemStatusUpdate(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.ItemStatusUpdateRecord), nil
}

func (m *Manager) PatronEnable(branchID string, p sip2.PatronEnableParams) (*sip2.PatronStatusRecord, error) {
	v, err := m.execute(branchID, "patronEnable", p, func(c *sip2.Client) (any, error) { return c.PatronEnable(p) })
	if err != nil {
		return nil, err
	}
	return v.(*sip2.PatronStatusRecord), nil
}

// BlockPatron has no SIP2 response; success means the frame was
// written to the socket.
func (m *Manager) BlockPatron(branchID string, p sip2.BlockPatronParams) error {
	_, err := m.execute(branchID, "blockPatron", p, func(c *sip2.Client) (any, error) {
		return nil, c.BlockPatron(p)
	})
	return err
}

// SCStatus reports the LMS's ACS Status for the branch.
func (m *Manager) SCStatus(branchID string, statusCode, maxPrintWidth int, protocolVersion string) (*sip2.ACSStatusRecord, error) {
	request := struct {
		StatusCode      int
		MaxPrintWidth   int
		ProtocolVersion string
	}{statusCode, maxPrintWidth, protocolVersion}

	v, err := m.execute(branchID, "scStatus", request, func(c *sip2.Client) (any, error) {
		return c.SCStatus(statusCode, maxPrintWidth, protocolVersion)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.ACSStatusRecord), nil
}
