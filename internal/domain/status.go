package domain

type ConventionStatus string

const (
	ConventionNotStarted ConventionStatus = "not_started"
	ConventionSigning    ConventionStatus = "signing"
	ConventionSigned     ConventionStatus = "signed"
)

type TestFrStatus string

const (
	TestFrNotStarted TestFrStatus = "not_started"
	TestFrInProgress TestFrStatus = "in_progress"
	TestFrValidated  TestFrStatus = "validated"
	TestFrReminded   TestFrStatus = "reminded"
)

type FundingStatus string

const (
	FundingNotStarted        FundingStatus = "not_started"
	FundingPendingValidation FundingStatus = "pending_validation"
	FundingValidated         FundingStatus = "validated"
)

type QualificationStatus string

const (
	QualificationNotStarted    QualificationStatus = "not_started"
	QualificationInProgress    QualificationStatus = "in_progress"
	QualificationValidated     QualificationStatus = "validated"
	QualificationNotApplicable QualificationStatus = "not_applicable"
)

// SecurityClearanceStatus tracks the trainee's authorization to work in
// private security. Values come from an outside lookup, so stored values
// outside the known set are kept as written.
type SecurityClearanceStatus string

const (
	ClearanceUnknown SecurityClearanceStatus = "unknown"
	ClearancePending SecurityClearanceStatus = "pending"
	ClearanceValid   SecurityClearanceStatus = "valid"
	ClearanceRefused SecurityClearanceStatus = "refused"
	ClearanceExpired SecurityClearanceStatus = "expired"
)

// AccommodationStatus is only tracked for the vehicle-escort program.
type AccommodationStatus string

const (
	AccommodationUnknown       AccommodationStatus = "unknown"
	AccommodationPending       AccommodationStatus = "pending"
	AccommodationBooked        AccommodationStatus = "booked"
	AccommodationNotNeeded     AccommodationStatus = "not_needed"
	AccommodationNotApplicable AccommodationStatus = "not_applicable"
)

type DossierStatus string

const (
	DossierIncomplete DossierStatus = "incomplete"
	DossierComplete   DossierStatus = "complete"
)

type DocumentStatus string

const (
	DocumentNotSubmitted DocumentStatus = "not_submitted"
	DocumentUnderReview  DocumentStatus = "under_review"
	DocumentCompliant    DocumentStatus = "compliant"
	DocumentNonCompliant DocumentStatus = "non_compliant"
)

// Status token sets, earliest first.
var (
	ConventionStatuses    = []ConventionStatus{ConventionNotStarted, ConventionSigning, ConventionSigned}
	TestFrStatuses        = []TestFrStatus{TestFrNotStarted, TestFrInProgress, TestFrValidated, TestFrReminded}
	FundingStatuses       = []FundingStatus{FundingNotStarted, FundingPendingValidation, FundingValidated}
	QualificationStatuses = []QualificationStatus{QualificationNotStarted, QualificationInProgress, QualificationValidated, QualificationNotApplicable}
	ClearanceStatuses     = []SecurityClearanceStatus{ClearanceUnknown, ClearancePending, ClearanceValid, ClearanceRefused, ClearanceExpired}
	AccommodationStatuses = []AccommodationStatus{AccommodationUnknown, AccommodationPending, AccommodationBooked, AccommodationNotNeeded, AccommodationNotApplicable}
	DocumentStatuses      = []DocumentStatus{DocumentNotSubmitted, DocumentUnderReview, DocumentCompliant, DocumentNonCompliant}
)

func (s ConventionStatus) Valid() bool        { return oneOf(s, ConventionStatuses) }
func (s TestFrStatus) Valid() bool            { return oneOf(s, TestFrStatuses) }
func (s FundingStatus) Valid() bool           { return oneOf(s, FundingStatuses) }
func (s QualificationStatus) Valid() bool     { return oneOf(s, QualificationStatuses) }
func (s SecurityClearanceStatus) Valid() bool { return oneOf(s, ClearanceStatuses) }
func (s AccommodationStatus) Valid() bool     { return oneOf(s, AccommodationStatuses) }
func (s DocumentStatus) Valid() bool          { return oneOf(s, DocumentStatuses) }

func oneOf[T comparable](v T, set []T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
