package db

import (
	"fmt"
	"strings"
	"time"

	"zapdesk/models"
)

// DayCount is the number of replied events on one local day.
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// RepliedPerDay counts replied events per day in [from, to).
func (l *Ledger) RepliedPerDay(from, to time.Time) ([]DayCount, error) {
	if l == nil {
		return nil, nil
	}

	// Dia de negócio: local no sqlite, truncado no postgres.
	dayExpr := "date(processed_at)"
	switch dialect := strings.ToLower(l.db.Dialect().GetName()); {
	case strings.Contains(dialect, "sqlite"):
		dayExpr = "strftime('%Y-%m-%d', processed_at, 'localtime')"
	case strings.Contains(dialect, "postgres"):
		dayExpr = "to_char(date_trunc('day', processed_at), 'YYYY-MM-DD')"
	}

	var rows []DayCount
	err := l.db.Table("events").
		Select(fmt.Sprintf("%s as day, count(*) as count", dayExpr)).
		Where("status = ? AND processed_at IS NOT NULL AND processed_at >= ? AND processed_at < ?",
			models.EVENT_STATUS_REPLIED, from, to).
		Group("day").
		Order("day asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// EventFilter narrows Search. Zero values mean "any".
type EventFilter struct {
	Status string
	Query  string // matched against chat_id, text and reply_text
	SortBy string // created_at | processed_at | id
	Desc   bool
	Limit  int
	Offset int
}

// Search returns one page of events plus the total matching the filter.
func (l *Ledger) Search(f EventFilter) ([]models.Event, int64, error) {
	if l == nil {
		return nil, 0, nil
	}

	switch f.SortBy {
	case "created_at", "processed_at", "id":
	default:
		f.SortBy = "created_at"
	}
	order := "asc"
	if f.Desc {
		order = "desc"
	}

	query := l.db.Model(&models.Event{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		query = query.Where("chat_id LIKE ? OR text LIKE ? OR reply_text LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.Event
	err := query.Order(fmt.Sprintf("%s %s, id %s", f.SortBy, order, order)).
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
