package controllers

import (
	"net/http"
	"strconv"
	"strings"

	dbpkg "zapdesk/db"

	"github.com/gin-gonic/gin"
)

const maxEvents = 200

// GET /api/admin/events?chat_id=&limit=
func GetEvents(c *gin.Context) {
	ledger := dbpkg.LedgerInstance(c)
	if ledger == nil {
		RespondError(c, "ledger desativado (LEDGER_DRIVER)", http.StatusServiceUnavailable)
		return
	}

	limit := maxEvents
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondError(c, "limit inválido", http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}

	events, err := ledger.List(strings.TrimSpace(c.Query("chat_id")), limit)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"events": events})
}

// GET /api/admin/events/:id
func GetEventByID(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}

	ledger := dbpkg.LedgerInstance(c)
	if ledger == nil {
		RespondError(c, "ledger desativado (LEDGER_DRIVER)", http.StatusServiceUnavailable)
		return
	}

	event, found, err := ledger.Get(id)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		RespondError(c, "event não encontrado", http.StatusNotFound)
		return
	}

	RespondSuccess(c, gin.H{"event": event})
}
