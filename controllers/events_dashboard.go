package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	dbpkg "zapdesk/db"

	"github.com/gin-gonic/gin"
)

// ------------------------------
// Dashboard - Stats
// ------------------------------

// GET /api/admin/dashboard/replied-per-day
// Query params:
// - from=YYYY-MM-DD (optional, default: hoje-6)
// - to=YYYY-MM-DD   (optional, default: hoje)
// Retorna uma série diária (inclui dias com 0).
func GetRepliedPerDay(c *gin.Context) {
	ledger := dbpkg.LedgerInstance(c)
	if ledger == nil {
		RespondError(c, "ledger desativado (LEDGER_DRIVER)", http.StatusServiceUnavailable)
		return
	}

	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}

	// Início do dia e "to exclusivo" (dia seguinte 00:00).
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.Local)
	toInclusive := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.Local)

	rows, err := ledger.RepliedPerDay(from, toInclusive.AddDate(0, 0, 1))
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{
		"from":   from.Format("2006-01-02"),
		"to":     toInclusive.Format("2006-01-02"),
		"series": fillDailySeries(from, toInclusive, rows),
	})
}

// ------------------------------
// Dashboard - List
// ------------------------------

// GET /api/admin/dashboard/events
// Query params:
// - status=received|replied|failed (optional)
// - q=texto (optional) -> busca em chat_id + text + reply_text
// - sort_by=created_at|processed_at|id (optional, default: created_at)
// - order=asc|desc (optional, default: desc)
// - limit (optional, default: 200, max: 500)
// - offset (optional, default: 0)
func GetEventsDashboardList(c *gin.Context) {
	ledger := dbpkg.LedgerInstance(c)
	if ledger == nil {
		RespondError(c, "ledger desativado (LEDGER_DRIVER)", http.StatusServiceUnavailable)
		return
	}

	filter := dbpkg.EventFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Query:  strings.TrimSpace(c.Query("q")),
		SortBy: strings.TrimSpace(c.DefaultQuery("sort_by", "created_at")),
		Desc:   strings.ToLower(strings.TrimSpace(c.DefaultQuery("order", "desc"))) != "asc",
		Limit:  clampInt(queryInt(c, "limit", 200), 1, 500),
		Offset: clampInt(queryInt(c, "offset", 0), 0, 1_000_000),
	}

	events, total, err := ledger.Search(filter)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"events": events,
	})
}

// ------------------------------
// Helpers
// ------------------------------

func queryInt(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	// defaults: últimos 7 dias
	now := time.Now()
	from := now.AddDate(0, 0, -6)
	to := now
	var err error

	if s := strings.TrimSpace(c.Query("from")); s != "" {
		from, err = time.ParseInLocation("2006-01-02", s, time.Local)
		if err != nil {
			RespondError(c, "from inválido (use YYYY-MM-DD)", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
	}
	if s := strings.TrimSpace(c.Query("to")); s != "" {
		to, err = time.ParseInLocation("2006-01-02", s, time.Local)
		if err != nil {
			RespondError(c, "to inválido (use YYYY-MM-DD)", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
	}
	if from.After(to) {
		RespondError(c, "from não pode ser maior que to", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func fillDailySeries(from time.Time, to time.Time, rows []dbpkg.DayCount) []dbpkg.DayCount {
	m := map[string]int64{}
	for _, r := range rows {
		if r.Day != "" {
			m[r.Day] = r.Count
		}
	}

	var out []dbpkg.DayCount
	cur := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.Local)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.Local)
	for !cur.After(end) {
		key := cur.Format("2006-01-02")
		out = append(out, dbpkg.DayCount{Day: key, Count: m[key]})
		cur = cur.AddDate(0, 0, 1)
	}
	return out
}
