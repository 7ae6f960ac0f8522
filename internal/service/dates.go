package service

import "time"

const dateLayout = "2006-01-02"

// normalizeToDate 去掉时间部分，只保留本地日历日
func normalizeToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dateKey(t time.Time) string {
	return t.Format(dateLayout)
}

func sameCalendarDay(a, b time.Time) bool {
	return dateKey(a) == dateKey(b)
}
