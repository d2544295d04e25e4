package storage

import (
	"strconv"
	"strings"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	return string(d)
}

// rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const signedAmount = `CASE WHEN type = 'credit' THEN amount_cents ELSE -amount_cents END`

const (
	// kids
	qListKids = `SELECT id, household_id, name, allowance_cents, presets, current_balance_cents
FROM kids WHERE household_id = ? ORDER BY LOWER(name), id`
	qGetKid = `SELECT id, household_id, name, allowance_cents, presets, current_balance_cents
FROM kids WHERE id = ?`
	qCreateKid = `INSERT INTO kids (id, household_id, name, allowance_cents, presets, current_balance_cents, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?)`
	qUpdateKidAllowance = `UPDATE kids SET allowance_cents = ?, presets = ? WHERE id = ?`
	qLockKid            = `SELECT id FROM kids WHERE id = ?`
	qRecomputeBalance   = `UPDATE kids SET current_balance_cents = (
    SELECT CAST(COALESCE(SUM(` + signedAmount + `), 0) AS BIGINT) FROM transactions WHERE kid_id = ?
) WHERE id = ?`
	qKidBalance = `SELECT current_balance_cents FROM kids WHERE id = ?`

	// transactions
	qListTransactions = `SELECT id, kid_id, type, amount_cents, occurred_at, description, added_by
FROM transactions WHERE kid_id = ? AND occurred_at >= ? AND occurred_at < ?
ORDER BY occurred_at DESC, id DESC`
	qGetTransaction = `SELECT id, kid_id, type, amount_cents, occurred_at, description, added_by
FROM transactions WHERE id = ?`
	qCreateTransaction = `INSERT INTO transactions (id, kid_id, type, amount_cents, occurred_at, description, added_by, sync_status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`
	qDeleteTransaction  = `DELETE FROM transactions WHERE id = ?`
	qAddPendingDelete   = `INSERT INTO pending_sheet_deletes (transaction_id, kid_id, deleted_at) VALUES (?, ?, ?)`
	qPendingDeletes     = `SELECT transaction_id FROM pending_sheet_deletes ORDER BY deleted_at, transaction_id LIMIT ?`
	qClearPendingDelete = `DELETE FROM pending_sheet_deletes WHERE transaction_id = ?`

	// households
	qHouseholdForUser = `SELECT h.id, h.name, h.invite_code FROM households h
JOIN household_members m ON m.household_id = h.id WHERE m.user_id = ?`
	qMembershipForUser  = `SELECT household_id FROM household_members WHERE user_id = ?`
	qHouseholdByCode    = `SELECT id, name, invite_code FROM households WHERE invite_code = ?`
	qInviteCode         = `SELECT invite_code FROM households WHERE id = ?`
	qCreateHousehold    = `INSERT INTO households (id, name, invite_code, created_at) VALUES (?, ?, ?, ?)`
	qAddMember          = `INSERT INTO household_members (user_id, household_id, joined_at) VALUES (?, ?, ?)`
	qIsMember           = `SELECT COUNT(*) FROM household_members WHERE user_id = ? AND household_id = ?`
	qInviteCodeInUse    = `SELECT COUNT(*) FROM households WHERE invite_code = ?`
	qHouseholdExists    = `SELECT id FROM households WHERE id = ?`

	// view tokens
	qViewTokenForKid = `SELECT token FROM view_tokens WHERE kid_id = ?`
	qCreateViewToken = `INSERT INTO view_tokens (token, kid_id, created_at) VALUES (?, ?, ?)`
	qKidForViewToken = `SELECT k.id, k.household_id, k.name, k.allowance_cents, k.presets, k.current_balance_cents
FROM kids k JOIN view_tokens v ON v.kid_id = k.id WHERE v.token = ?`

	// users and sessions
	qEmailInUse    = `SELECT COUNT(*) FROM users WHERE email = ?`
	qCreateUser    = `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	qUserByEmail   = `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`
	qUserByID      = `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`
	qCreateSession = `INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`
	qGetSession    = `SELECT token, user_id, expires_at FROM sessions WHERE token = ?`
	qDeleteSession = `DELETE FROM sessions WHERE token = ?`

	// sync
	qPendingSync = `SELECT id, kid_id, type, amount_cents, occurred_at, description, added_by
FROM transactions WHERE sync_status = 'pending' ORDER BY created_at, id LIMIT ?`
	qMarkSyncStatus = `UPDATE transactions SET sync_status = ? WHERE id = ?`
	qKidBalances    = `SELECT k.id, k.current_balance_cents,
    CAST(COALESCE(SUM(CASE WHEN t.type = 'credit' THEN t.amount_cents ELSE -t.amount_cents END), 0) AS BIGINT)
FROM kids k LEFT JOIN transactions t ON t.kid_id = k.id
GROUP BY k.id, k.current_balance_cents`
	qSetKidBalance = `UPDATE kids SET current_balance_cents = ? WHERE id = ?`
)

const (
	syncPending = "pending"
	syncSynced  = "synced"
	syncError   = "error"
)
