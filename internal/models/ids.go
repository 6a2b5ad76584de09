package models

import "github.com/google/uuid"

// ID prefixes per entity.
const (
	PrefixWash         = "wa_"
	PrefixLocation     = "loc_"
	PrefixPayment      = "pa_"
	PrefixRemittance   = "re_"
	PrefixReview       = "rv_"
	PrefixIssue        = "is_"
	PrefixMessage      = "msg_"
	PrefixNotification = "nt_"
	PrefixReference    = "ref_"
	PrefixTransaction  = "tr_"
)

func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
