package ledger

// Operation is a state-changing contract method.
type Operation string

const (
	OpStake               Operation = "stake"
	OpUnstake             Operation = "unstake"
	OpCompleteTask        Operation = "completeTask"
	OpRedeem              Operation = "redeem"
	OpRegisterTherapist   Operation = "registerTherapist"
	OpDeactivateTherapist Operation = "deactivateTherapist"
	OpReactivateTherapist Operation = "reactivateTherapist"
	OpBookTherapist       Operation = "bookTherapist"
	OpCancelBooking       Operation = "cancelBooking"
	OpUploadReport        Operation = "uploadReport"
)

// Field is a read-only contract method keyed by address.
type Field string

const (
	FieldUserAccount       Field = "getUserAccount"
	FieldTherapistProfile  Field = "getTherapistProfile"
	FieldUserBookings      Field = "getUserBookings"
	FieldTherapistBookings Field = "getTherapistBookings"
)

// methodOwner is the parameterless read returning the contract owner.
const methodOwner = "owner"
