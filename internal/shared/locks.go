package shared

// LedgerRunLockKey is the redis key serialising turnover and balance runs.
const LedgerRunLockKey = "ledger:run:lock"

// ReportLockKey builds the redis key for a regulatory report period.
func ReportLockKey(from string) string {
	return "ledger:report:" + from + ":lock"
}
