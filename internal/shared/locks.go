package shared

import "fmt"

// SummaryLockKey builds redis keys guarding daily summary recalculation
// per property and business day.
func SummaryLockKey(propertyID int64, day string) string {
	return fmt.Sprintf("fnb:summary:%d:%s:lock", propertyID, day)
}
