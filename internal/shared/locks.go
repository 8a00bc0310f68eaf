package shared

import "fmt"

// OrderLockKey builds redis keys for per-order production critical sections.
func OrderLockKey(orderID int64) string {
	return fmt.Sprintf("production:order:%d:lock", orderID)
}
