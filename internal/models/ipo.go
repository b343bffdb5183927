package models

import "time"

type IPOStatus string

const (
	IPOOpen           IPOStatus = "OPEN"
	IPOAllotmentPhase IPOStatus = "ALLOTMENT_PHASE"
	IPOAllotted       IPOStatus = "ALLOTTED"
)

type ApplicationStatus string

const (
	ApplicationPendingVerification ApplicationStatus = "PENDING_VERIFICATION"
	ApplicationVerified            ApplicationStatus = "VERIFIED"
	ApplicationAllotted            ApplicationStatus = "ALLOTTED"
	ApplicationNotAllotted         ApplicationStatus = "NOT_ALLOTTED"
	ApplicationRejected            ApplicationStatus = "REJECTED"
)

// Eligible reports whether the application takes part in an allotment run.
func (s ApplicationStatus) Eligible() bool {
	return s == ApplicationPendingVerification || s == ApplicationVerified
}

// IPO is a share issue whose applications are allotted once subscription closes.
type IPO struct {
	ID                  string
	Name                string
	IssueSize           int64 // shares on offer
	PricePerShare       int64 // minor units
	SettlementAccountID string
	Status              IPOStatus
	CreatedAt           time.Time
	AllottedAt          *time.Time
}

// IPOApplication is one subscription request; Amount is held on AccountID until allotment.
type IPOApplication struct {
	ID             string
	IPOID          string
	CustomerID     string
	AccountID      string
	Quantity       int64
	Amount         int64
	Status         ApplicationStatus
	SharesAllotted int64
	AmountSettled  int64
	Sequence       int64 // submission order within the IPO
	SubmittedAt    time.Time
	VerifiedBy     string
	Comments       string
}

// AllotmentSummary is a cache of figures derived from the applications of an IPO.
type AllotmentSummary struct {
	IPOID               string
	TotalApplications   int
	TotalAllotted       int
	TotalSharesAllotted int64
	TotalAmountSettled  int64
	ComputedAt          time.Time
}

// SummarizeAllotment recomputes the summary from the applications.
func SummarizeAllotment(ipoID string, apps []IPOApplication, at time.Time) AllotmentSummary {
	s := AllotmentSummary{IPOID: ipoID, ComputedAt: at}
	for _, a := range apps {
		if a.Status != ApplicationAllotted && a.Status != ApplicationNotAllotted {
			continue
		}
		s.TotalApplications++
		if a.Status == ApplicationAllotted {
			s.TotalAllotted++
			s.TotalSharesAllotted += a.SharesAllotted
			s.TotalAmountSettled += a.AmountSettled
		}
	}
	return s
}
