package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collar-backtest/database"
)

// BacktestController serves completed backtest results
type BacktestController struct {
	storage *database.LocalStorage
}

// NewBacktestController creates a new backtest controller
func NewBacktestController(storage *database.LocalStorage) *BacktestController {
	return &BacktestController{
		storage: storage,
	}
}

// HandleListRuns returns run headers, optionally filtered by ?strategy=
func (bc *BacktestController) HandleListRuns(c *gin.Context) {
	runs, err := bc.storage.GetRuns(c.Query("strategy"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleGetRun returns one run header with its performance summary
func (bc *BacktestController) HandleGetRun(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	run, err := bc.storage.GetRun(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, run)
}

// HandleGetTransactions returns the full ledger of a run in trade order
func (bc *BacktestController) HandleGetTransactions(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	records, err := bc.storage.GetTransactions(runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": records,
		"count":        len(records),
	})
}

// HandleGetPortfolioValues returns the daily value series of a run
func (bc *BacktestController) HandleGetPortfolioValues(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	values, err := bc.storage.GetPortfolioValues(runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"values": values,
		"count":  len(values),
	})
}

func parseRunID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
