package api

import (
	"net/http"
	"strings"

	"duckbridge/internal/domain"
	"duckbridge/internal/middleware"
)

// ExecuteQueryRequest is the body of POST /v1/query.
type ExecuteQueryRequest struct {
	SQL string `json:"sql"`
}

// ExecuteQueryResponse is the body of a successful query.
type ExecuteQueryResponse struct {
	Engine   domain.Engine       `json:"engine"`
	Columns  []domain.ColumnType `json:"columns"`
	Rows     []domain.Row        `json:"rows"`
	RowCount int                 `json:"row_count"`
}

// ExecuteQuery handles POST /v1/query.
func (h *APIHandler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	var req ExecuteQueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, r, http.StatusBadRequest, "sql is required")
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	res, err := h.svc.Query(r.Context(), req.SQL)
	if err != nil {
		h.logger.Info("query failed", "principal", principal, "error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ExecuteQueryResponse{
		Engine:   res.Engine(),
		Columns:  res.ColumnTypes(),
		Rows:     res.Rows,
		RowCount: res.Len(),
	})
}
