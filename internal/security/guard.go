package security

import (
	svcerrors "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/record"
)

// CanRead reports whether sec may read rec, per owner_id/app_id/domain
// scoping (spec §4.2 "reads are filtered to records owned by the caller,
// or scoped to the caller's app/domain when owner_id is unset").
func CanRead(sec Context, rec *record.Record) bool {
	if sec.Admin {
		return true
	}
	if rec.OwnerID != "" && rec.OwnerID != sec.UserID {
		return false
	}
	if rec.AppID != "" && sec.AppID != "" && rec.AppID != sec.AppID {
		return false
	}
	if rec.Domain != "" && sec.Domain != "" && rec.Domain != sec.Domain {
		return false
	}
	return true
}

// CanWrite reports whether sec may update or delete rec. It applies the
// same owner/app/domain rules as CanRead: an owned record can only be
// written by its owner or an admin (spec §4.2).
func CanWrite(sec Context, rec *record.Record) bool {
	if sec.Admin {
		return true
	}
	if rec.OwnerID != "" && rec.OwnerID != sec.UserID {
		return false
	}
	return CanRead(sec, rec)
}

// Guard returns a *errors.ServiceError(Forbidden) when sec cannot perform
// action on rec, or nil when allowed.
func Guard(sec Context, rec *record.Record, write bool) error {
	allowed := CanRead(sec, rec)
	if write {
		allowed = CanWrite(sec, rec)
	}
	if !allowed {
		return svcerrors.Forbidden("not permitted to access this object")
	}
	return nil
}

// Stamp sets owner/app/domain on rec at creation time, the way every new
// object inherits the security context of its creator (spec §4.4 step 1).
func Stamp(sec Context, rec *record.Record) {
	if rec.OwnerID == "" {
		rec.OwnerID = sec.UserID
	}
	if rec.AppID == "" {
		rec.AppID = sec.AppID
	}
	if rec.Domain == "" {
		rec.Domain = sec.Domain
	}
}

// FilterReadable returns the subset of recs readable by sec.
func FilterReadable(sec Context, recs []*record.Record) []*record.Record {
	out := make([]*record.Record, 0, len(recs))
	for _, r := range recs {
		if CanRead(sec, r) {
			out = append(out, r)
		}
	}
	return out
}
