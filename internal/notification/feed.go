// Ordered feed helpers shared by the aggregator's three collections.

package notification

import "SecondInning/internal/entity"

// insertOrdered places item by createdAt descending. Ties go before
// existing entries with the same timestamp, keeping real-time arrivals
// visually on top without needing sub-millisecond timestamps.
func insertOrdered[T entity.NotificationItem](items []T, item T) []T {
	idx := len(items)
	for i := range items {
		if items[i].OccurredAt() <= item.OccurredAt() {
			idx = i
			break
		}
	}
	var zero T
	items = append(items, zero)
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	return items
}

// removeByID deletes the entry with the given id, reporting the removed
// value. Order of the remaining entries is preserved.
func removeByID[T entity.NotificationItem](items []T, id string) ([]T, T, bool) {
	var removed T
	for i := range items {
		if items[i].NotificationID() == id {
			removed = items[i]
			return append(items[:i], items[i+1:]...), removed, true
		}
	}
	return items, removed, false
}

// containsID reports whether an entry with the given id is present.
func containsID[T entity.NotificationItem](items []T, id string) bool {
	for i := range items {
		if items[i].NotificationID() == id {
			return true
		}
	}
	return false
}
