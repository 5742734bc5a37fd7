package domain

import (
	"sort"
	"time"
)

// TimelineEvent - запись в истории заказа: создание, оплата, отклонённая оплата.
// TransactionID заполняется для событий, связанных с платежом.
type TimelineEvent struct {
	OrderID       string
	Type          string
	Reason        string
	TransactionID string
	Occurred      time.Time
}

// SortTimeline упорядочивает события по времени, сохраняя порядок добавления для равных моментов.
func SortTimeline(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
}
