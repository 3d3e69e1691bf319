package mysql

// -----------------------------------------------------------------------------
// CATALOG
// -----------------------------------------------------------------------------

const unitColumns = `
  u.id, u.property_id, u.name, p.name, p.city, p.property_type_id,
  u.max_capacity, p.average_rating, p.lat, p.lon,
  u.base_price, u.currency, u.tags, u.settings,
  p.approved, u.active, COALESCE(u.deleted_at, p.deleted_at)
`

// The structural predicate mirrors domain.StructuralFilter.Matches; a zero
// argument disables its clause. city compares under a case-insensitive collation.
const listCandidatesSQL = `
SELECT` + unitColumns + `
FROM units u
JOIN properties p ON p.id = u.property_id
WHERE p.approved = 1 AND u.active = 1
  AND u.deleted_at IS NULL AND p.deleted_at IS NULL
  AND (? = '' OR p.city = TRIM(?))
  AND (? = 0 OR p.property_type_id = ?)
  AND (? = 0 OR u.max_capacity >= ?)
ORDER BY u.id
`

const getUnitSQL = `
SELECT` + unitColumns + `
FROM units u
JOIN properties p ON p.id = u.property_id
WHERE u.id = ? AND u.deleted_at IS NULL AND p.deleted_at IS NULL
`

const listUnitIDsSQL = `
SELECT u.id
FROM units u
JOIN properties p ON p.id = u.property_id
WHERE p.approved = 1 AND u.active = 1
  AND u.deleted_at IS NULL AND p.deleted_at IS NULL
ORDER BY u.id
`

const upsertPropertySQL = `
INSERT INTO properties
  (id, name, city, property_type_id, lat, lon, average_rating, approved, deleted_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name             = VALUES(name),
  city             = VALUES(city),
  property_type_id = VALUES(property_type_id),
  lat              = VALUES(lat),
  lon              = VALUES(lon),
  average_rating   = VALUES(average_rating),
  approved         = VALUES(approved),
  deleted_at       = VALUES(deleted_at)
`

const upsertUnitSQL = `
INSERT INTO units
  (id, property_id, name, max_capacity, base_price, currency, tags, settings, active, deleted_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  property_id  = VALUES(property_id),
  name         = VALUES(name),
  max_capacity = VALUES(max_capacity),
  base_price   = VALUES(base_price),
  currency     = VALUES(currency),
  tags         = VALUES(tags),
  settings     = VALUES(settings),
  active       = VALUES(active),
  deleted_at   = VALUES(deleted_at)
`

// -----------------------------------------------------------------------------
// SCHEDULE
// -----------------------------------------------------------------------------

const scheduleColumns = `unit_id, day, status, booking_ref, price, currency, tier, reason, notes, created_by, modified_by, created_at, updated_at`

// Half-open: day >= from AND day < to.
const getRangeSQL = `
SELECT ` + scheduleColumns + `
FROM unit_schedule
WHERE unit_id = ? AND day >= ? AND day < ?
ORDER BY day
`

// Completed with "IN (?,?,...)" and the range bounds by the repo.
const getRangesPrefix = `
SELECT ` + scheduleColumns + `
FROM unit_schedule
WHERE unit_id IN (`

const getRangesSuffix = `) AND day >= ? AND day < ?
ORDER BY unit_id, day
`

const lockRangeSQL = `
SELECT ` + scheduleColumns + `
FROM unit_schedule
WHERE unit_id = ? AND day >= ? AND day < ?
ORDER BY day
FOR UPDATE
`

const countAvailableSQL = `
SELECT COUNT(*)
FROM unit_schedule
WHERE unit_id = ? AND day >= ? AND day < ? AND status = 'available'
`

const upsertSchedulePrefix = "INSERT INTO unit_schedule\n  (" + scheduleColumns + ")\nVALUES "

// A booked row keeps its status and booking reference; created_* never change.
// status is assigned last so the IF sees the stored value in booking_ref's clause.
const upsertScheduleOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  booking_ref = IF(status = 'booked', booking_ref, VALUES(booking_ref)),\n" +
	"  price       = VALUES(price),\n" +
	"  currency    = VALUES(currency),\n" +
	"  tier        = VALUES(tier),\n" +
	"  reason      = VALUES(reason),\n" +
	"  notes       = VALUES(notes),\n" +
	"  modified_by = VALUES(modified_by),\n" +
	"  updated_at  = VALUES(updated_at),\n" +
	"  status      = IF(status = 'booked', status, VALUES(status))\n"

const markRangeSQL = `
UPDATE unit_schedule
SET status = ?, booking_ref = ?, modified_by = ?, updated_at = ?
WHERE unit_id = ? AND day >= ? AND day < ?
`

const deleteRangeSQL = `
DELETE FROM unit_schedule
WHERE unit_id = ? AND day >= ? AND day < ? AND status <> 'booked'
`

const purgeUnitSQL = `DELETE FROM unit_schedule WHERE unit_id = ?`

// -----------------------------------------------------------------------------
// CURRENCIES
// -----------------------------------------------------------------------------

const listCurrenciesSQL = `
SELECT code, rate, is_default, minor_units, updated_at
FROM currencies
WHERE rate > 0
ORDER BY code
`

const upsertCurrencySQL = `
INSERT INTO currencies (code, rate, is_default, minor_units, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  rate        = VALUES(rate),
  is_default  = VALUES(is_default),
  minor_units = VALUES(minor_units),
  updated_at  = VALUES(updated_at)
`
