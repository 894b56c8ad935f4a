package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix e.g. inv_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateShortIDWithPrefix returns a short ID with a prefix.
// Total length is capped at 12 characters, e.g. `RUN-xYZ12A8Q`.
func GenerateShortIDWithPrefix(prefix string) string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		return ""
	}
	id = strings.ReplaceAll(id, "-", "")

	availableLen := 12 - len(prefix)
	if availableLen <= 0 {
		return ""
	}

	if len(id) > availableLen {
		id = id[:availableLen]
	}

	return strings.ToUpper(fmt.Sprintf("%s%s", prefix, id))
}

const (
	// Prefixes for all domains and entities

	UUID_PREFIX_BILLABLE_ENTITY         = "bent"
	UUID_PREFIX_BILLING_CUSTOMER        = "bcus"
	UUID_PREFIX_PLAN                    = "plan"
	UUID_PREFIX_PLAN_PRICE              = "price"
	UUID_PREFIX_SUBSCRIPTION            = "subs"
	UUID_PREFIX_SUBSCRIPTION_ITEM       = "subs_item"
	UUID_PREFIX_INVOICE                 = "inv"
	UUID_PREFIX_PAYMENT                 = "pay"
	UUID_PREFIX_IDEMPOTENCY_REQUEST     = "idem"
	UUID_PREFIX_CHECKOUT_SESSION        = "chks"
	UUID_PREFIX_WEBHOOK_EVENT           = "webhook"
	UUID_PREFIX_OUTBOX_JOB              = "outbox"
	UUID_PREFIX_RECONCILIATION_RUN      = "recon"
	UUID_PREFIX_REMEDIATION             = "rem"
	UUID_PREFIX_ENTITLEMENT_DEFINITION  = "edef"
	UUID_PREFIX_ENTITLEMENT_GRANT       = "egrant"
	UUID_PREFIX_ENTITLEMENT_CONSUMPTION = "econs"
	UUID_PREFIX_ENTITLEMENT_BALANCE     = "ebal"
	UUID_PREFIX_OPERATION               = "op"
)
