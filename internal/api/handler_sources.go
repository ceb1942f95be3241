package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"duckbridge/internal/domain"
)

// orderedSources decodes a JSON object of source name to locations while
// keeping the order the keys appear in.
type orderedSources domain.SourceMap

func (s *orderedSources) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = orderedSources{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("sources must be an object of source name to locations")
	}

	out := orderedSources{}
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		if seen[name] {
			return fmt.Errorf("duplicate source %q", name)
		}
		seen[name] = true

		var locations []string
		if err := dec.Decode(&locations); err != nil {
			return fmt.Errorf("source %q: locations must be an array of strings", name)
		}
		out = append(out, domain.Source{Name: name, Locations: locations})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// RegisterSourcesRequest is the body of PUT /v1/sources.
type RegisterSourcesRequest struct {
	Sources orderedSources `json:"sources"`
	Append  bool           `json:"append"`
}

// RegisterSourcesResponse lists the views now backed by the request.
type RegisterSourcesResponse struct {
	Views []string `json:"views"`
}

// RegisterSources handles PUT /v1/sources.
func (h *APIHandler) RegisterSources(w http.ResponseWriter, r *http.Request) {
	var req RegisterSourcesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sources := domain.SourceMap(req.Sources)
	if err := h.svc.RegisterSources(r.Context(), sources, req.Append); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	views := []string{}
	for _, src := range sources {
		for _, loc := range src.Locations {
			views = append(views, domain.DescribeView(src.Name, loc).QualifiedName())
		}
	}
	writeJSON(w, http.StatusOK, RegisterSourcesResponse{Views: views})
}

// ClearFiles handles DELETE /v1/files?glob=<pattern>.
func (h *APIHandler) ClearFiles(w http.ResponseWriter, r *http.Request) {
	glob := r.URL.Query().Get("glob")
	if glob == "" {
		writeError(w, r, http.StatusBadRequest, "glob query parameter is required")
		return
	}
	if err := h.svc.ClearVirtualFiles(r.Context(), glob); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetSearchPathRequest is the body of PUT /v1/search-path.
type SetSearchPathRequest struct {
	Schemas []string `json:"schemas"`
}

// SetSearchPath handles PUT /v1/search-path.
func (h *APIHandler) SetSearchPath(w http.ResponseWriter, r *http.Request) {
	var req SetSearchPathRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Schemas) == 0 {
		writeError(w, r, http.StatusBadRequest, "schemas is required")
		return
	}
	for _, s := range req.Schemas {
		if strings.TrimSpace(s) == "" {
			writeError(w, r, http.StatusBadRequest, "schema names must not be empty")
			return
		}
	}
	if err := h.svc.SetSearchPath(r.Context(), req.Schemas); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
