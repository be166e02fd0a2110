package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reference category prefixes. The prefix survives into receipts and
// provider narrations, so keep them short and stable.
const (
	RefBankTransfer   = "BT"
	RefAirtime        = "AT"
	RefData           = "DT"
	RefUtility        = "UT"
	RefCredit         = "CR"
	RefReversal       = "RV"
	RefFee            = "FE"
	RefVirtualCard    = "VC"
	RefVirtualAccount = "VA"
)

// NewReference builds a globally unique transaction reference of the form
// <PREFIX>_<yyyymmddHHMMSS>_<random>. Uniqueness is enforced by the ledger's
// unique index; the timestamp component keeps references sortable in support
// tooling.
func NewReference(prefix string) string {
	random := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s_%s_%s", prefix, time.Now().UTC().Format("20060102150405"), random)
}

// NewReferralCode derives a short uppercase referral code.
func NewReferralCode() string {
	return "KP" + strings.ToUpper(strings.Split(uuid.New().String(), "-")[0])
}
