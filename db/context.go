package db

import (
	"github.com/gin-gonic/gin"
)

const ledgerKey = "ledger"

// SetLedgerToContext expõe o ledger para os handlers de admin.
func SetLedgerToContext(ledger *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ledgerKey, ledger)
		c.Next()
	}
}

// LedgerInstance devolve o ledger do contexto; nil quando desativado.
func LedgerInstance(c *gin.Context) *Ledger {
	v, ok := c.Get(ledgerKey)
	if !ok {
		return nil
	}
	l, _ := v.(*Ledger)
	return l
}
